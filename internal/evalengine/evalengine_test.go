package evalengine

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/exprlang"
	"github.com/dkellerman/ndchunk/ndarray"
)

func float64Bytes(vals []float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func newFilledArray(t *testing.T, shape []int, vals []float64, opts ...ndarray.Option) *ndarray.NDArray {
	t.Helper()
	a, err := ndarray.New(shape, dtype.Float64, opts...)
	if err != nil {
		t.Fatalf("ndarray.New: %v", err)
	}
	stop := append([]int(nil), shape...)
	start := make([]int, len(shape))
	if err := a.UpdateData(start, stop, float64Bytes(vals)); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	return a
}

func TestEvaluateAdditionFastPath(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4}, ndarray.WithChunks([]int{2}), ndarray.WithBlocks([]int{2}))
	b := newFilledArray(t, []int{4}, []float64{10, 20, 30, 40}, ndarray.WithChunks([]int{2}), ndarray.WithBlocks([]int{2}))

	operands := map[string]Operand{"o0": a, "o1": b}
	if SelectPath(operands) != PathFast {
		t.Fatal("expected fast path for matching aligned/behaved geometries")
	}

	expr, err := exprlang.Parse("o0 + o1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Evaluate(expr, operands, dtype.Float64)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{4})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{11, 22, 33, 44})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEvaluateScalarOperand(t *testing.T) {
	a := newFilledArray(t, []int{3}, []float64{1, 2, 3})
	operands := map[string]Operand{"o0": a, "o1": float64(10)}
	expr, err := exprlang.Parse("o0 * o1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Evaluate(expr, operands, dtype.Float64)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{10, 20, 30})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEvaluateSlicedPathMismatchedGeometry(t *testing.T) {
	a := newFilledArray(t, []int{6}, []float64{1, 2, 3, 4, 5, 6}, ndarray.WithChunks([]int{2}), ndarray.WithBlocks([]int{2}))
	b := newFilledArray(t, []int{6}, []float64{1, 1, 1, 1, 1, 1}, ndarray.WithChunks([]int{3}), ndarray.WithBlocks([]int{3}))

	operands := map[string]Operand{"o0": a, "o1": b}
	if SelectPath(operands) != PathSliced {
		t.Fatal("expected sliced path for mismatched chunk geometries")
	}

	expr, err := exprlang.Parse("o0 + o1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Evaluate(expr, operands, dtype.Float64)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{6})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{2, 3, 4, 5, 6, 7})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReduceSum(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4})
	expr, err := exprlang.Parse("o0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := Reduce(Sum, WrapExpr(expr), map[string]Operand{"o0": a}, nil)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got != 10 {
		t.Fatalf("sum = %v, want 10", got)
	}
}

func TestReduceWithWhereMask(t *testing.T) {
	a := newFilledArray(t, []int{4}, []float64{1, -2, 3, -4})
	expr, err := exprlang.Parse("o0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	whereExpr, err := exprlang.Parse("o0 > 0")
	if err != nil {
		t.Fatalf("Parse where: %v", err)
	}
	got, err := Reduce(Sum, WrapExpr(expr), map[string]Operand{"o0": a}, WrapExpr(whereExpr))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got != 4 {
		t.Fatalf("masked sum = %v, want 4", got)
	}
}

func TestReduceEmptyAxisErrors(t *testing.T) {
	a, err := ndarray.New([]int{0}, dtype.Float64)
	if err != nil {
		t.Fatalf("ndarray.New: %v", err)
	}
	expr, err := exprlang.Parse("o0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = Reduce(Min, WrapExpr(expr), map[string]Operand{"o0": a}, nil)
	if err != ErrEmptyReduction {
		t.Fatalf("err = %v, want ErrEmptyReduction", err)
	}
}

func TestReduceAxisSumOverRows(t *testing.T) {
	a := newFilledArray(t, []int{3, 4}, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	expr, err := exprlang.Parse("o0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := ReduceAxis(Sum, WrapExpr(expr), map[string]Operand{"o0": a}, nil, []int{0}, false)
	if err != nil {
		t.Fatalf("ReduceAxis: %v", err)
	}
	if got := out.Shape(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("shape = %v, want [4]", got)
	}
	got, err := out.GetSlice([]int{0}, []int{4})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{12, 15, 18, 21})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReduceAxisNegativeAxis(t *testing.T) {
	a := newFilledArray(t, []int{2, 2}, []float64{1, 2, 3, 4})
	expr, err := exprlang.Parse("o0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := ReduceAxis(Sum, WrapExpr(expr), map[string]Operand{"o0": a}, nil, []int{-1}, false)
	if err != nil {
		t.Fatalf("ReduceAxis: %v", err)
	}
	got, err := out.GetSlice([]int{0}, []int{2})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{3, 7}) // row sums: 1+2, 3+4
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEvaluateBroadcastsRowVector(t *testing.T) {
	a := newFilledArray(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	row := newFilledArray(t, []int{3}, []float64{10, 20, 30})

	operands := map[string]Operand{"o0": a, "o1": row}
	if SelectPath(operands) != PathSliced {
		t.Fatal("expected a broadcast operand to force the sliced path")
	}

	expr, err := exprlang.Parse("o0 + o1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Evaluate(expr, operands, dtype.Float64)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := out.GetSlice([]int{0, 0}, []int{2, 3})
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	want := float64Bytes([]float64{11, 22, 33, 14, 25, 36})
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBroadcastShapeMismatchErrors(t *testing.T) {
	a := newFilledArray(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	b := newFilledArray(t, []int{4}, []float64{1, 2, 3, 4})
	_, err := commonShape(map[string]Operand{"o0": a, "o1": b})
	if err != ErrShapeMismatch {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestEvalCallTranscendentalFunctions(t *testing.T) {
	env := map[string]float64{"o0": 0.5}
	cases := map[string]float64{
		"sinh(o0)":    math.Sinh(0.5),
		"cosh(o0)":    math.Cosh(0.5),
		"tanh(o0)":    math.Tanh(0.5),
		"arcsin(o0)":  math.Asin(0.5),
		"arccos(o0)":  math.Acos(0.5),
		"arctan(o0)":  math.Atan(0.5),
		"arcsinh(o0)": math.Asinh(0.5),
		"arccosh(o0)": math.Acosh(1.5),
		"arctanh(o0)": math.Atanh(0.5),
		"expm1(o0)":   math.Expm1(0.5),
		"log1p(o0)":   math.Log1p(0.5),
	}
	for src, want := range cases {
		expr, err := exprlang.Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		e := env
		if src == "arccosh(o0)" {
			e = map[string]float64{"o0": 1.5}
		}
		got, err := EvalScalar(expr, e)
		if err != nil {
			t.Fatalf("EvalScalar(%q): %v", src, err)
		}
		if got != want {
			t.Fatalf("%s = %v, want %v", src, got, want)
		}
	}
}

func TestEvalCallArctan2(t *testing.T) {
	expr, err := exprlang.Parse("arctan2(o0, o1)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := EvalScalar(expr, map[string]float64{"o0": 1, "o1": 1})
	if err != nil {
		t.Fatalf("EvalScalar: %v", err)
	}
	if want := math.Atan2(1, 1); got != want {
		t.Fatalf("arctan2 = %v, want %v", got, want)
	}
}

func TestPrefetchChunksPreservesOrder(t *testing.T) {
	const n = 9
	var seen []int
	err := PrefetchChunks(context.Background(), n, func(nchunk int) ([]byte, error) {
		return []byte{byte(nchunk)}, nil
	}, func(nchunk int, data []byte) error {
		seen = append(seen, nchunk)
		if data[0] != byte(nchunk) {
			t.Fatalf("chunk %d got wrong payload %v", nchunk, data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PrefetchChunks: %v", err)
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("out-of-order delivery at %d: %v", i, seen)
		}
	}
}
