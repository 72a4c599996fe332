package exprlang

import "fmt"

// Validate runs the two-stage safe-subset check required before an
// expression is ever compiled: stage one is the
// character-level allow-list already enforced by Tokenize (any disallowed
// byte fails the parse outright); stage two walks the parsed AST and
// rejects any operand name not present in allowedOperands or any function
// call not in AllowedFuncs. It returns the parsed Expr on success so callers
// don't need to re-parse.
func Validate(src string, allowedOperands map[string]bool) (Expr, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("exprlang: %w", err)
	}
	if err := checkNode(expr, allowedOperands); err != nil {
		return nil, err
	}
	return expr, nil
}

func checkNode(e Expr, allowedOperands map[string]bool) error {
	switch n := e.(type) {
	case NumberLit:
		return nil
	case OperandRef:
		if !allowedOperands[n.Name] {
			return fmt.Errorf("exprlang: operand %q is not declared in the operand map", n.Name)
		}
		return nil
	case UnaryExpr:
		return checkNode(n.X, allowedOperands)
	case BinaryExpr:
		if err := checkNode(n.Left, allowedOperands); err != nil {
			return err
		}
		return checkNode(n.Right, allowedOperands)
	case CallExpr:
		if !AllowedFuncs[n.Func] {
			return fmt.Errorf("exprlang: function %q is not in the allowed set", n.Func)
		}
		for _, a := range n.Args {
			if err := checkNode(a, allowedOperands); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("exprlang: unrecognized AST node %T", e)
	}
}
