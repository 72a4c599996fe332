package ndchunk

import (
	"fmt"

	"github.com/dkellerman/ndchunk/internal/codec"
	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/evalengine"
	"github.com/dkellerman/ndchunk/internal/exprlang"
	"github.com/dkellerman/ndchunk/ndarray"
)

// Array is the public chunked n-dimensional array type.
type Array = ndarray.NDArray

// ArrayOption configures a new Array; re-exported so callers never need to
// import the internal ndarray package directly.
type ArrayOption = ndarray.Option

// WithChunks fixes the per-axis chunk shape of a new array.
func WithChunks(chunks []int) ArrayOption { return ndarray.WithChunks(chunks) }

// WithBlocks fixes the per-axis block shape of a new array.
func WithBlocks(blocks []int) ArrayOption { return ndarray.WithBlocks(blocks) }

// WithCParams overrides the default compression parameters of a new array.
func WithCParams(cparams codec.CParams) ArrayOption { return ndarray.WithCParams(cparams) }

// NewArray creates a new zero-filled Array of the given shape and dtype.
func NewArray(shape []int, dt dtype.Dtype, opts ...ArrayOption) (*Array, error) {
	if dt.Itemsize < 1 || dt.Itemsize > dtype.MaxTypesize {
		return nil, fmt.Errorf("%w: itemsize %d outside [1, %d]", ErrResourceExhausted, dt.Itemsize, dtype.MaxTypesize)
	}
	arr, err := ndarray.New(shape, dt, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return arr, nil
}

// LazyExpr is a deferred arithmetic expression over Array/scalar/LazyExpr
// operands: constructing one only parses and validates the expression text;
// no chunk is touched until Eval or Reduce runs.
type LazyExpr struct {
	text     string
	operands map[string]any
	expr     exprlang.Expr
}

// NewLazyExpr parses text against the restricted expression grammar and
// validates every referenced name against operands, returning
// ErrValidation if the text uses disallowed syntax, an undeclared operand,
// or a disallowed function call. operands values must be *Array, float64,
// or *LazyExpr.
func NewLazyExpr(text string, operands map[string]any) (*LazyExpr, error) {
	allowed := make(map[string]bool, len(operands))
	for name, v := range operands {
		if !isValidOperandValue(v) {
			return nil, fmt.Errorf("%w: operand %q has unsupported type %T", ErrValidation, name, v)
		}
		allowed[name] = true
	}
	expr, err := exprlang.Validate(text, allowed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &LazyExpr{text: text, operands: operands, expr: expr}, nil
}

func isValidOperandValue(v any) bool {
	switch v.(type) {
	case *Array, float64, *LazyExpr:
		return true
	default:
		return false
	}
}

// String returns the original expression text.
func (le *LazyExpr) String() string { return le.text }

// inline substitutes any *LazyExpr operand with its own (recursively
// inlined) expression tree, fusing operand identity across the whole tree
// with one shared Fuser so that an operand appearing in more than one
// nested sub-expression collapses to a single evaluation slot.
func (le *LazyExpr) inline(fuser *exprlang.Fuser, global map[string]evalengine.Operand) (exprlang.Expr, error) {
	return inlineExpr(le.expr, le.operands, fuser, global)
}

func inlineExpr(expr exprlang.Expr, operands map[string]any, fuser *exprlang.Fuser, global map[string]evalengine.Operand) (exprlang.Expr, error) {
	switch n := expr.(type) {
	case exprlang.NumberLit:
		return n, nil
	case exprlang.OperandRef:
		v := operands[n.Name]
		if nested, ok := v.(*LazyExpr); ok {
			return nested.inline(fuser, global)
		}
		tok := fuser.Token(v)
		switch vv := v.(type) {
		case *Array:
			global[tok] = vv
		case float64:
			global[tok] = vv
		default:
			return nil, fmt.Errorf("%w: operand %q has unsupported type %T", ErrValidation, n.Name, v)
		}
		return exprlang.OperandRef{Name: tok}, nil
	case exprlang.UnaryExpr:
		x, err := inlineExpr(n.X, operands, fuser, global)
		if err != nil {
			return nil, err
		}
		return exprlang.UnaryExpr{Op: n.Op, X: x}, nil
	case exprlang.BinaryExpr:
		l, err := inlineExpr(n.Left, operands, fuser, global)
		if err != nil {
			return nil, err
		}
		r, err := inlineExpr(n.Right, operands, fuser, global)
		if err != nil {
			return nil, err
		}
		return exprlang.BinaryExpr{Op: n.Op, Left: l, Right: r}, nil
	case exprlang.CallExpr:
		args := make([]exprlang.Expr, len(n.Args))
		for i, a := range n.Args {
			rewritten, err := inlineExpr(a, operands, fuser, global)
			if err != nil {
				return nil, err
			}
			args[i] = rewritten
		}
		return exprlang.CallExpr{Func: n.Func, Args: args}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized expression node %T", ErrValidation, expr)
	}
}

func (le *LazyExpr) resolve() (exprlang.Expr, map[string]evalengine.Operand, error) {
	return le.resolveWith(exprlang.NewFuser())
}

// resolveWith inlines le against a caller-supplied Fuser instead of a fresh
// one, so that two independently-parsed expressions (e.g. Reduce's expr and
// where) can be resolved into one shared, collision-free operand token
// space instead of each minting its own o0, o1, … from zero.
func (le *LazyExpr) resolveWith(fuser *exprlang.Fuser) (exprlang.Expr, map[string]evalengine.Operand, error) {
	global := make(map[string]evalengine.Operand)
	expr, err := le.inline(fuser, global)
	if err != nil {
		return nil, nil, err
	}
	return expr, global, nil
}

// Canonical resolves the expression's operand fusion and returns its
// canonical text (operand leaves named o0, o1, … in first-insertion order,
// every binary operator fully parenthesized) alongside those operand names
// in the same order. (a+a).Canonical() returns ("(o0+o0)", []string{"o0"}):
// a repeated operand collapses to a single fused slot.
func (le *LazyExpr) Canonical() (text string, operands []string, err error) {
	fuser := exprlang.NewFuser()
	expr, _, err := le.resolveWith(fuser)
	if err != nil {
		return "", nil, err
	}
	return exprlang.Format(expr), fuser.Order(), nil
}

// Eval materializes the expression as a new Array of dtype outDt, choosing
// the fast or sliced evaluation path per operand geometry.
func (le *LazyExpr) Eval(outDt dtype.Dtype) (*Array, error) {
	expr, operands, err := le.resolve()
	if err != nil {
		return nil, err
	}
	out, err := evalengine.Evaluate(expr, operands, outDt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}

// EvalSlice materializes only the [start, stop) item range of the
// expression as a new Array of dtype outDt (e.g. E[0:10000] on a 1-D
// expression is EvalSlice(outDt, []int{0}, []int{10000})), without ever
// reading or computing the rest of the expression. This always uses the
// region-intersection (sliced) evaluation strategy, since a partial item
// range can't align with every operand's whole-chunk geometry the way a
// full Eval can.
func (le *LazyExpr) EvalSlice(outDt dtype.Dtype, start, stop []int) (*Array, error) {
	expr, operands, err := le.resolve()
	if err != nil {
		return nil, err
	}
	out, err := evalengine.EvaluateSlice(expr, operands, outDt, start, stop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}

// ReduceOp names a supported full-array reduction; MEDIAN is not supported
// and has no corresponding constant here.
type ReduceOp = evalengine.ReduceOp

// Reduction operator constants, re-exported from evalengine.
const (
	Sum  = evalengine.Sum
	Prod = evalengine.Prod
	Mean = evalengine.Mean
	Std  = evalengine.Std
	Var  = evalengine.Var
	Max  = evalengine.Max
	Min  = evalengine.Min
	Any  = evalengine.Any
	All  = evalengine.All
)

// Reduce computes a full reduction of the expression, optionally masked by
// where (nil for an unmasked reduction).
func (le *LazyExpr) Reduce(op ReduceOp, where *LazyExpr) (float64, error) {
	fuser := exprlang.NewFuser()
	expr, operands, err := le.resolveWith(fuser)
	if err != nil {
		return 0, err
	}

	var whereEval evalengine.ExprEvaluator
	if where != nil {
		whereExpr, whereOperands, err := where.resolveWith(fuser)
		if err != nil {
			return 0, err
		}
		for k, v := range whereOperands {
			operands[k] = v
		}
		whereEval = evalengine.WrapExpr(whereExpr)
	}

	v, err := evalengine.Reduce(op, evalengine.WrapExpr(expr), operands, whereEval)
	if err != nil {
		switch err {
		case evalengine.ErrEmptyReduction:
			return 0, ErrEmptyReduction
		case evalengine.ErrUnsupportedOperation:
			return 0, ErrUnsupportedOperation
		default:
			return 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return v, nil
}

// ReduceAxis computes a reduction along axes only, leaving every other axis
// of the expression's shape intact, e.g. (a > 5000).where(a, 0).ReduceAxis
// (Sum, nil, []int{0}, false) on a (100, 100) expression returns a
// length-100 Array. Negative axes count from the end; keepdims retains the
// reduced axes with size 1 instead of removing them.
func (le *LazyExpr) ReduceAxis(op ReduceOp, where *LazyExpr, axes []int, keepdims bool) (*Array, error) {
	fuser := exprlang.NewFuser()
	expr, operands, err := le.resolveWith(fuser)
	if err != nil {
		return nil, err
	}

	var whereEval evalengine.ExprEvaluator
	if where != nil {
		whereExpr, whereOperands, err := where.resolveWith(fuser)
		if err != nil {
			return nil, err
		}
		for k, v := range whereOperands {
			operands[k] = v
		}
		whereEval = evalengine.WrapExpr(whereExpr)
	}

	out, err := evalengine.ReduceAxis(op, evalengine.WrapExpr(expr), operands, whereEval, axes, keepdims)
	if err != nil {
		switch err {
		case evalengine.ErrEmptyReduction:
			return nil, ErrEmptyReduction
		case evalengine.ErrUnsupportedOperation:
			return nil, ErrUnsupportedOperation
		default:
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return out, nil
}
