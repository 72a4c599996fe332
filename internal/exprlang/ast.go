package exprlang

// Expr is the AST of a parsed LazyExpr expression string.
type Expr interface {
	isExpr()
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
}

func (NumberLit) isExpr() {}

// OperandRef refers to one operand by its map key (e.g. "o0", "x").
type OperandRef struct {
	Name string
}

func (OperandRef) isExpr() {}

// UnaryExpr is a prefix operator applied to one operand: -x or !x.
type UnaryExpr struct {
	Op TokenKind
	X  Expr
}

func (UnaryExpr) isExpr() {}

// BinaryExpr is an infix operator applied to two operands.
type BinaryExpr struct {
	Op    TokenKind
	Left  Expr
	Right Expr
}

func (BinaryExpr) isExpr() {}

// CallExpr is a function call, e.g. sqrt(o0) or where(o0 > 0, o0, o1).
type CallExpr struct {
	Func string
	Args []Expr
}

func (CallExpr) isExpr() {}

// AllowedFuncs is the fixed set of function names the validator accepts.
// conj, real, and imag are deliberately absent: there is no complex dtype
// to operate on. contains is likewise absent: there is no string dtype.
var AllowedFuncs = map[string]bool{
	"sqrt": true, "abs": true, "sin": true, "cos": true, "tan": true,
	"sinh": true, "cosh": true, "tanh": true,
	"arcsin": true, "arccos": true, "arctan": true, "arctan2": true,
	"arcsinh": true, "arccosh": true, "arctanh": true,
	"exp": true, "expm1": true, "log": true, "log10": true, "log2": true, "log1p": true,
	"where": true, "sum": true, "prod": true, "mean": true, "std": true,
	"var": true, "max": true, "min": true, "any": true, "all": true,
}

// Operands walks expr and returns the set of distinct operand names it
// references, in first-encountered order. This is stage two of the
// validator: every name found here must be a key of the caller-supplied
// operand map, or Validate rejects the expression.
func Operands(expr Expr) []string {
	seen := make(map[string]bool)
	var order []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case OperandRef:
			if !seen[n.Name] {
				seen[n.Name] = true
				order = append(order, n.Name)
			}
		case UnaryExpr:
			walk(n.X)
		case BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case CallExpr:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(expr)
	return order
}
