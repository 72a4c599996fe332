package ndchunk

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/dkellerman/ndchunk/internal/dtype"
)

func float64Bytes(vals []float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func newFilledArray(t *testing.T, shape []int, vals []float64) *Array {
	t.Helper()
	a, err := NewArray(shape, dtype.Float64)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	start := make([]int, len(shape))
	if err := a.UpdateData(start, shape, float64Bytes(vals)); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	return a
}

func TestNewLazyExprRejectsUndeclaredOperand(t *testing.T) {
	a := newFilledArray(t, []int{2}, []float64{1, 2})
	_, err := NewLazyExpr("o0 + o1", map[string]any{"o0": a})
	if err == nil {
		t.Fatal("expected validation error for undeclared o1")
	}
}

func TestLazyExprEvalSimple(t *testing.T) {
	a := newFilledArray(t, []int{3}, []float64{1, 2, 3})
	b := newFilledArray(t, []int{3}, []float64{10, 10, 10})

	le, err := NewLazyExpr("o0 + o1 * 2", map[string]any{"o0": a, "o1": b})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	out, err := le.Eval(dtype.Float64)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{21, 22, 23})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLazyExprNestedOperand(t *testing.T) {
	a := newFilledArray(t, []int{2}, []float64{1, 2})

	inner, err := NewLazyExpr("o0 * 2", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr inner: %v", err)
	}
	outer, err := NewLazyExpr("o0 + 1", map[string]any{"o0": inner})
	if err != nil {
		t.Fatalf("NewLazyExpr outer: %v", err)
	}
	out, err := outer.Eval(dtype.Float64)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{2})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{3, 5})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLazyExprReduceSum(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4})
	le, err := NewLazyExpr("o0", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	got, err := le.Reduce(Sum, nil)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got != 10 {
		t.Fatalf("sum = %v, want 10", got)
	}
}

func TestLazyExprCanonicalDedupsRepeatedOperand(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4})
	le, err := NewLazyExpr("o0 + o0", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	text, operands, err := le.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if text != "(o0+o0)" {
		t.Fatalf("canonical text = %q, want %q", text, "(o0+o0)")
	}
	if len(operands) != 1 {
		t.Fatalf("canonical operands = %v, want exactly one entry", operands)
	}
}

func TestLazyExprReduceAxisAlongRows(t *testing.T) {
	shape := []int{3, 4}
	vals := make([]float64, 12)
	for i := range vals {
		vals[i] = float64(i)
	}
	a := newFilledArray(t, shape, vals)
	le, err := NewLazyExpr("o0", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	out, err := le.ReduceAxis(Sum, nil, []int{0}, false)
	if err != nil {
		t.Fatalf("ReduceAxis: %v", err)
	}
	if got := out.Shape(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("shape = %v, want [4]", got)
	}
	raw, err := out.GetSlice([]int{0}, []int{4})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := []float64{12, 15, 18, 21} // column sums of 0..11 laid out row-major
	for i, w := range want {
		got := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		if got != w {
			t.Fatalf("column %d = %v, want %v", i, got, w)
		}
	}
}

func TestLazyExprReduceAxisKeepdims(t *testing.T) {
	shape := []int{2, 2}
	a := newFilledArray(t, shape, []float64{1, 2, 3, 4})
	le, err := NewLazyExpr("o0", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	out, err := le.ReduceAxis(Sum, nil, []int{1}, true)
	if err != nil {
		t.Fatalf("ReduceAxis: %v", err)
	}
	if got := out.Shape(); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("shape = %v, want [2 1]", got)
	}
}

func TestLazyExprBroadcastsSmallerArrayOperand(t *testing.T) {
	a := newFilledArray(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	row := newFilledArray(t, []int{3}, []float64{10, 20, 30})
	le, err := NewLazyExpr("o0 + o1", map[string]any{"o0": a, "o1": row})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	out, err := le.Eval(dtype.Float64)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	raw, err := out.GetSlice([]int{0, 0}, []int{2, 3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := []float64{11, 22, 33, 14, 25, 36}
	for i, w := range want {
		got := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		if got != w {
			t.Fatalf("element %d = %v, want %v", i, got, w)
		}
	}
}

func TestLazyExprEvalSlicePartialRange(t *testing.T) {
	a := newFilledArray(t, []int{6}, []float64{10, 20, 30, 40, 50, 60})
	le, err := NewLazyExpr("o0 * 2", map[string]any{"o0": a})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	out, err := le.EvalSlice(dtype.Float64, []int{2}, []int{5})
	if err != nil {
		t.Fatalf("EvalSlice: %v", err)
	}
	if got := out.Shape(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("shape = %v, want [3]", got)
	}
	raw, err := out.GetSlice([]int{0}, []int{3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := []float64{60, 80, 100}
	for i, w := range want {
		got := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		if got != w {
			t.Fatalf("element %d = %v, want %v", i, got, w)
		}
	}
}

func TestSaveLoadArrayRoundTrip(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4})
	path := filepath.Join(t.TempDir(), "arr.ndc")
	if err := SaveArray(path, a); err != nil {
		t.Fatalf("SaveArray: %v", err)
	}
	loaded, err := LoadArray(path)
	if err != nil {
		t.Fatalf("LoadArray: %v", err)
	}
	got, err := loaded.GetSlice([]int{0}, []int{4})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{1, 2, 3, 4})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSaveLoadExprRoundTrip(t *testing.T) {
	a := newFilledArray(t, []int{3}, []float64{1, 2, 3})
	le, err := NewLazyExpr("o0 + o1", map[string]any{"o0": a, "o1": float64(5)})
	if err != nil {
		t.Fatalf("NewLazyExpr: %v", err)
	}
	path := filepath.Join(t.TempDir(), "expr.ndcexpr")
	if err := SaveExpr(path, le); err != nil {
		t.Fatalf("SaveExpr: %v", err)
	}

	loaded, err := LoadExpr(path)
	if err != nil {
		t.Fatalf("LoadExpr: %v", err)
	}
	out, err := loaded.Eval(dtype.Float64)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{6, 7, 8})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLoadArrayRejectsNonContainerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ndc")
	if err := os.WriteFile(path, []byte("not a container"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadArray(path); err == nil {
		t.Fatal("expected error loading a non-container file")
	}
}
