package ndchunk

import (
	"fmt"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/evalengine"
)

// UDFFunc is a user-supplied elementwise callback for LazyUDF: it receives
// one float64 per operand, in the same order operands were given to
// NewLazyUDF, and returns the computed value for that element.
type UDFFunc func(args []float64) (float64, error)

// LazyUDF wraps a user Go callback as an elementwise expression over
// Array/scalar operands, the same role NewLazyExpr's parsed expression text
// plays for arithmetic expressions. Unlike LazyExpr, a LazyUDF can never be
// persisted: its callback is a Go closure, not serializable expression
// text. There is no save function for it, and NewLazyExpr rejects a
// *LazyUDF operand, so one never reaches SaveExpr.
type LazyUDF struct {
	fn       UDFFunc
	operands []any
	outDt    dtype.Dtype
}

// NewLazyUDF creates a LazyUDF computing fn elementwise over operands
// (each must be *Array or float64, and is evaluated positionally in the
// order given), producing a result of dtype outDt.
func NewLazyUDF(fn UDFFunc, operands []any, outDt dtype.Dtype) (*LazyUDF, error) {
	for i, v := range operands {
		if !isValidUDFOperandValue(v) {
			return nil, fmt.Errorf("%w: operand %d has unsupported type %T", ErrValidation, i, v)
		}
	}
	return &LazyUDF{fn: fn, operands: operands, outDt: outDt}, nil
}

func isValidUDFOperandValue(v any) bool {
	switch v.(type) {
	case *Array, float64:
		return true
	default:
		return false
	}
}

// Compute runs fn over every element of operands and materializes the
// result as a new Array, e.g. lazyudf(f, (a,), a.dtype).compute().
func (u *LazyUDF) Compute() (*Array, error) {
	ops := make([]evalengine.Operand, len(u.operands))
	for i, v := range u.operands {
		ops[i] = v
	}
	out, err := evalengine.EvaluateFunc(func(args []float64) (float64, error) {
		return u.fn(args)
	}, ops, u.outDt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}
