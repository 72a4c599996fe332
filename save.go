package ndchunk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// lazyArrayDescriptor is the on-disk form of a persisted LazyExpr: its
// source text, a map from operand name to either a sibling array file
// (ArrayFile) or an inline scalar (Scalar), and a {"LazyArray":0} marker.
// It is written as JSON, not in the array container format, and LoadExpr
// does not check the marker.
type lazyArrayDescriptor struct {
	LazyArray int                       `json:"LazyArray"`
	Expr      string                    `json:"expr"`
	Operands  map[string]operandLiteral `json:"operands"`
}

type operandLiteral struct {
	ArrayFile string   `json:"array_file,omitempty"`
	Scalar    *float64 `json:"scalar,omitempty"`
}

// SaveExpr persists a LazyExpr built entirely from *Array and float64
// operands: every *Array operand is written to its own sibling container
// file via SaveArray, and a small JSON descriptor at path records the
// expression text and the operand-name-to-file mapping. An expression with
// a UDF operand cannot be persisted this way; since this engine has no UDF
// operand kind to begin with, every LazyExpr this function accepts is
// persistable by construction. Expressions containing a *LazyExpr operand
// must be resolved (flattened) before saving, since the nested
// sub-expression has no standalone array to serialize.
func SaveExpr(path string, le *LazyExpr) error {
	desc := lazyArrayDescriptor{LazyArray: 0, Expr: le.text, Operands: make(map[string]operandLiteral)}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	for name, v := range le.operands {
		switch vv := v.(type) {
		case *Array:
			arrFile := filepath.Join(dir, base+"."+name+".ndc")
			if err := SaveArray(arrFile, vv); err != nil {
				return err
			}
			desc.Operands[name] = operandLiteral{ArrayFile: filepath.Base(arrFile)}
		case float64:
			val := vv
			desc.Operands[name] = operandLiteral{Scalar: &val}
		case *LazyExpr:
			return fmt.Errorf("%w: cannot persist a LazyExpr with a nested LazyExpr operand %q; call Eval and use the result as an Array operand instead", ErrUnsupportedOperation, name)
		default:
			return fmt.Errorf("%w: operand %q has unsupported type %T", ErrValidation, name, v)
		}
	}

	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// LoadExpr reads a descriptor written by SaveExpr, loading every referenced
// sibling array file, and returns the reconstructed LazyExpr.
func LoadExpr(path string) (*LazyExpr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	var desc lazyArrayDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: %s is not an ndchunk expression descriptor", ErrValidation, path)
	}

	dir := filepath.Dir(path)
	operands := make(map[string]any, len(desc.Operands))
	for name, lit := range desc.Operands {
		switch {
		case lit.ArrayFile != "":
			arr, err := LoadArray(filepath.Join(dir, lit.ArrayFile))
			if err != nil {
				return nil, err
			}
			operands[name] = arr
		case lit.Scalar != nil:
			operands[name] = *lit.Scalar
		default:
			return nil, fmt.Errorf("%w: operand %q has neither an array file nor a scalar", ErrValidation, name)
		}
	}
	return NewLazyExpr(desc.Expr, operands)
}
