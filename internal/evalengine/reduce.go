package evalengine

import (
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/exprlang"
	"github.com/dkellerman/ndchunk/ndarray"
)

// reductionsTotal counts Reduce calls by operator, the "reduce" share of
// the path-selection metrics alongside evaluationsTotal's fast/sliced
// counts.
var reductionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ndchunk",
	Subsystem: "evalengine",
	Name:      "reductions_total",
	Help:      "Number of Reduce calls by reduction operator.",
}, []string{"op"})

func init() {
	prometheus.MustRegister(reductionsTotal)
}

// ReduceOp names a supported reduction. MEDIAN is deliberately absent and
// unsupported, so requesting it returns ErrUnsupportedOperation rather than
// silently approximating it.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Prod
	Mean
	Std
	Var
	Max
	Min
	Any
	All
)

func (op ReduceOp) String() string {
	switch op {
	case Sum:
		return "sum"
	case Prod:
		return "prod"
	case Mean:
		return "mean"
	case Std:
		return "std"
	case Var:
		return "var"
	case Max:
		return "max"
	case Min:
		return "min"
	case Any:
		return "any"
	case All:
		return "all"
	default:
		return "unknown"
	}
}

// ErrUnsupportedOperation is returned for reductions this engine doesn't
// implement (currently only MEDIAN).
var ErrUnsupportedOperation = fmt.Errorf("evalengine: unsupported reduction")

// monoidSeed and monoidCombine implement SUM/PROD/MIN/MAX/ANY/ALL as plain
// monoids; MEAN/STD/VAR are built on top of SUM (and SUM-of-squares for
// STD/VAR) instead of their own accumulators.
func monoidSeed(op ReduceOp, dt dtype.Dtype) (float64, error) {
	switch op {
	case Sum, Mean, Std, Var:
		return 0, nil
	case Prod:
		return 1, nil
	case Any:
		return 0, nil
	case All:
		return 1, nil
	case Max:
		v, ok := dtype.SentinelMin(dt)
		if !ok {
			return math.Inf(-1), nil
		}
		return v, nil
	case Min:
		v, ok := dtype.SentinelMax(dt)
		if !ok {
			return math.Inf(1), nil
		}
		return v, nil
	default:
		return 0, ErrUnsupportedOperation
	}
}

func monoidCombine(op ReduceOp, acc, v float64) float64 {
	switch op {
	case Sum, Mean, Std, Var:
		return acc + v
	case Prod:
		return acc * v
	case Max:
		return math.Max(acc, v)
	case Min:
		return math.Min(acc, v)
	case Any:
		return boolToFloat(acc != 0 || v != 0)
	case All:
		return boolToFloat(acc != 0 && v != 0)
	default:
		return acc
	}
}

// Reduce computes a full (whole-array) fused where-masked reduction of expr
// over operands, optionally restricted to elements where whereExpr (if
// non-nil) evaluates truthy. It returns a single scalar; see ReduceAxis for
// reducing along a subset of axes only.
func Reduce(op ReduceOp, expr ExprEvaluator, operands map[string]Operand, whereExpr ExprEvaluator) (float64, error) {
	reductionsTotal.WithLabelValues(op.String()).Inc()
	shape, err := commonShape(operands)
	if err != nil {
		return 0, err
	}
	total := 1
	for _, s := range shape {
		total *= s
	}
	if total == 0 {
		switch op {
		case Sum, Any:
			return 0, nil
		case Prod, All:
			return 1, nil
		}
		return 0, ErrEmptyReduction
	}

	start := make([]int, len(shape))
	env, count, err := gatherEnv(operands, start, shape)
	if err != nil {
		return 0, err
	}

	seed, err := monoidSeed(op, dtype.Float64)
	if err != nil {
		return 0, err
	}
	acc := seed
	sumSq := 0.0
	n := 0

	for i := 0; i < count; i++ {
		elemEnv := make(map[string]float64, len(env))
		for name, vals := range env {
			elemEnv[name] = vals[i]
		}
		if whereExpr != nil {
			maskVal, err := whereExpr.Eval(elemEnv)
			if err != nil {
				return 0, err
			}
			if maskVal == 0 {
				continue
			}
		}
		v, err := expr.Eval(elemEnv)
		if err != nil {
			return 0, err
		}
		acc = monoidCombine(op, acc, v)
		sumSq += v * v
		n++
	}

	if n == 0 {
		switch op {
		case Sum, Any:
			return 0, nil
		case Prod, All:
			return 1, nil
		}
		return 0, ErrEmptyReduction
	}

	switch op {
	case Mean:
		return acc / float64(n), nil
	case Var:
		mean := acc / float64(n)
		return sumSq/float64(n) - mean*mean, nil
	case Std:
		mean := acc / float64(n)
		return math.Sqrt(sumSq/float64(n) - mean*mean), nil
	default:
		return acc, nil
	}
}

// ReduceAxis computes a fused where-masked reduction of expr over operands
// along the given axes only, leaving every other axis intact. Negative axes
// count from the end (Python-style). When keepdims is true the reduced axes
// are kept with size 1; otherwise they're removed from the result shape.
// Reducing every axis with keepdims=false collapses to a single-element,
// rank-1 array rather than a true rank-0 array.
func ReduceAxis(op ReduceOp, expr ExprEvaluator, operands map[string]Operand, whereExpr ExprEvaluator, axes []int, keepdims bool) (*ndarray.NDArray, error) {
	reductionsTotal.WithLabelValues(op.String()).Inc()
	shape, err := commonShape(operands)
	if err != nil {
		return nil, err
	}
	rank := len(shape)

	isAxis := make([]bool, rank)
	for _, a := range axes {
		if a < 0 {
			a += rank
		}
		if a < 0 || a >= rank {
			return nil, fmt.Errorf("evalengine: axis %d out of range for rank %d", a, rank)
		}
		isAxis[a] = true
	}

	collapsedShape := make([]int, rank)
	copy(collapsedShape, shape)
	for d := range collapsedShape {
		if isAxis[d] {
			collapsedShape[d] = 1
		}
	}
	var finalShape []int
	if keepdims {
		finalShape = collapsedShape
	} else {
		for d := range shape {
			if !isAxis[d] {
				finalShape = append(finalShape, shape[d])
			}
		}
		if finalShape == nil {
			finalShape = []int{1}
		}
	}

	total := product(shape)
	cells := product(collapsedShape)
	if total == 0 && op != Sum && op != Prod && op != Any && op != All {
		return nil, ErrEmptyReduction
	}

	start := make([]int, rank)
	env, _, err := gatherEnv(operands, start, shape)
	if err != nil {
		return nil, err
	}

	seed, err := monoidSeed(op, dtype.Float64)
	if err != nil {
		return nil, err
	}
	acc := make([]float64, cells)
	sumSq := make([]float64, cells)
	counts := make([]int, cells)
	for i := range acc {
		acc[i] = seed
	}

	collapsedStrides := rowMajorStrides(collapsedShape)
	idx := make([]int, rank)
	for flat := 0; flat < total; flat++ {
		collapsedFlat := 0
		for d := 0; d < rank; d++ {
			id := idx[d]
			if isAxis[d] {
				id = 0
			}
			collapsedFlat += id * collapsedStrides[d]
		}

		elemEnv := make(map[string]float64, len(env))
		for name, vals := range env {
			elemEnv[name] = vals[flat]
		}
		if whereExpr != nil {
			maskVal, err := whereExpr.Eval(elemEnv)
			if err != nil {
				return nil, err
			}
			if maskVal == 0 {
				advanceIndex(idx, shape)
				continue
			}
		}
		v, err := expr.Eval(elemEnv)
		if err != nil {
			return nil, err
		}
		acc[collapsedFlat] = monoidCombine(op, acc[collapsedFlat], v)
		sumSq[collapsedFlat] += v * v
		counts[collapsedFlat]++

		advanceIndex(idx, shape)
	}

	switch op {
	case Mean:
		for i := range acc {
			if counts[i] > 0 {
				acc[i] /= float64(counts[i])
			}
		}
	case Var:
		for i := range acc {
			if counts[i] > 0 {
				mean := acc[i] / float64(counts[i])
				acc[i] = sumSq[i]/float64(counts[i]) - mean*mean
			}
		}
	case Std:
		for i := range acc {
			if counts[i] > 0 {
				mean := acc[i] / float64(counts[i])
				acc[i] = math.Sqrt(sumSq[i]/float64(counts[i]) - mean*mean)
			}
		}
	}

	out, err := ndarray.New(finalShape, dtype.Float64, ndarray.WithChunks(finalShape), ndarray.WithBlocks(finalShape))
	if err != nil {
		return nil, fmt.Errorf("evalengine: allocating reduction result: %w", err)
	}
	if cells == 0 {
		return out, nil
	}
	encoded, err := float64sToBytes(acc, dtype.Float64)
	if err != nil {
		return nil, err
	}
	if err := out.UpdateChunk(0, encoded); err != nil {
		return nil, fmt.Errorf("evalengine: writing reduction result: %w", err)
	}
	return out, nil
}

// advanceIndex increments idx (a row-major multi-index into shape) by one
// element, carrying from the trailing axis.
func advanceIndex(idx, shape []int) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return
		}
		idx[d] = 0
	}
}

// ExprEvaluator abstracts EvalScalar so Reduce can accept any expression
// source; WrapExpr adapts a parsed exprlang.Expr to this interface.
type ExprEvaluator interface {
	Eval(env map[string]float64) (float64, error)
}

type exprEvaluator struct {
	expr exprlang.Expr
}

func (e exprEvaluator) Eval(env map[string]float64) (float64, error) {
	return EvalScalar(e.expr, env)
}

// WrapExpr adapts a parsed exprlang.Expr as an ExprEvaluator for Reduce.
func WrapExpr(expr exprlang.Expr) ExprEvaluator {
	return exprEvaluator{expr: expr}
}
