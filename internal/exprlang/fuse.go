package exprlang

import "strconv"

// OperandMap binds the operand names an Expr references to whatever a
// caller-defined operand actually is (an NDArray, a scalar, another
// LazyExpr). exprlang treats the values as opaque; only their identity
// matters for fusion/dedup.
type OperandMap map[string]any

// Fuser assigns stable identity tokens to operands so that combining two
// expressions into one fused expression can tell "the same array appearing
// in both sides" apart from "two different arrays that happen to share a
// local operand name like o0". Each distinct operand (by pointer/interface
// identity) gets exactly one token for the lifetime of the Fuser, no matter
// how many expressions it is registered from. Tokens are assigned in
// insertion order as o0, o1, o2, …, so (a+a).operands has exactly one entry
// and the canonical text is syntactically "(o0+o0)".
type Fuser struct {
	tokens map[any]string
	order  []string
	next   int
}

// NewFuser creates an empty Fuser.
func NewFuser() *Fuser {
	return &Fuser{tokens: make(map[any]string)}
}

// token returns the stable token for operand, minting the next "o<N>" in
// insertion order on first sight.
func (f *Fuser) token(operand any) string {
	if t, ok := f.tokens[operand]; ok {
		return t
	}
	t := "o" + strconv.Itoa(f.next)
	f.next++
	f.tokens[operand] = t
	f.order = append(f.order, t)
	return t
}

// Token is the exported form of token, for callers (e.g. LazyExpr operand
// inlining) that need to assign a fused identity without rewriting a whole
// expression tree through Fuse.
func (f *Fuser) Token(operand any) string {
	return f.token(operand)
}

// Order returns every token this Fuser has minted, in insertion (o0, o1, …)
// order.
func (f *Fuser) Order() []string {
	return append([]string(nil), f.order...)
}

// Fuse rewrites expr's OperandRef nodes from their local names (keys of
// local) to this Fuser's stable global tokens, returning the rewritten
// expression and a global OperandMap fragment mapping each token to its
// operand. Calling Fuse again with an expression that shares an operand
// (by identity) with a prior call reuses that operand's existing token,
// which is how two LazyExprs combined by an arithmetic operator end up
// sharing one operand slot in the fused expression instead of duplicating
// the underlying array.
func (f *Fuser) Fuse(expr Expr, local OperandMap) (Expr, OperandMap) {
	global := make(OperandMap)
	rewritten := f.rewrite(expr, local, global)
	return rewritten, global
}

func (f *Fuser) rewrite(e Expr, local OperandMap, global OperandMap) Expr {
	switch n := e.(type) {
	case NumberLit:
		return n
	case OperandRef:
		operand := local[n.Name]
		tok := f.token(operand)
		global[tok] = operand
		return OperandRef{Name: tok}
	case UnaryExpr:
		return UnaryExpr{Op: n.Op, X: f.rewrite(n.X, local, global)}
	case BinaryExpr:
		return BinaryExpr{
			Op:    n.Op,
			Left:  f.rewrite(n.Left, local, global),
			Right: f.rewrite(n.Right, local, global),
		}
	case CallExpr:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = f.rewrite(a, local, global)
		}
		return CallExpr{Func: n.Func, Args: args}
	default:
		return e
	}
}

// Combine fuses two already-parsed expressions with their own local operand
// maps under a single binary operator, producing one expression over one
// merged operand map with no duplicate operand slots for shared operands.
func Combine(op TokenKind, left Expr, leftOperands OperandMap, right Expr, rightOperands OperandMap) (Expr, OperandMap) {
	f := NewFuser()
	leftRewritten, leftGlobal := f.Fuse(left, leftOperands)
	rightRewritten, rightGlobal := f.Fuse(right, rightOperands)
	merged := make(OperandMap, len(leftGlobal)+len(rightGlobal))
	for k, v := range leftGlobal {
		merged[k] = v
	}
	for k, v := range rightGlobal {
		merged[k] = v
	}
	return BinaryExpr{Op: op, Left: leftRewritten, Right: rightRewritten}, merged
}
