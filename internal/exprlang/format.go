package exprlang

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders expr back to text using its fused operand tokens, fully
// parenthesizing every binary operator so the result is unambiguous and
// stable regardless of precedence: (a+a) formats as "(o0+o0)", matching the
// canonical form a LazyExpr's fused operand map uses.
func Format(expr Expr) string {
	var b strings.Builder
	writeExpr(&b, expr)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case NumberLit:
		b.WriteString(strconv.FormatFloat(n.Value, 'g', -1, 64))
	case OperandRef:
		b.WriteString(n.Name)
	case UnaryExpr:
		b.WriteString(opText(n.Op))
		writeExpr(b, n.X)
	case BinaryExpr:
		b.WriteByte('(')
		writeExpr(b, n.Left)
		b.WriteString(opText(n.Op))
		writeExpr(b, n.Right)
		b.WriteByte(')')
	case CallExpr:
		b.WriteString(n.Func)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			writeExpr(b, a)
		}
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<unknown %T>", e)
	}
}

func opText(op TokenKind) string {
	switch op {
	case TokPlus:
		return "+"
	case TokMinus:
		return "-"
	case TokStar:
		return "*"
	case TokSlash:
		return "/"
	case TokPercent:
		return "%"
	case TokDoubleStar:
		return "**"
	case TokLT:
		return "<"
	case TokLE:
		return "<="
	case TokGT:
		return ">"
	case TokGE:
		return ">="
	case TokEQ:
		return "=="
	case TokNE:
		return "!="
	case TokAmp:
		return "&"
	case TokPipe:
		return "|"
	case TokBang:
		return "!"
	default:
		return "?"
	}
}
