package evalengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/exprlang"
	"github.com/dkellerman/ndchunk/ndarray"
)

// evaluationsTotal counts Evaluate calls by chosen path, purely additive
// instrumentation a caller can scrape to see how often expressions qualify
// for the fast chunk-at-a-time path versus falling back to sliced.
var evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ndchunk",
	Subsystem: "evalengine",
	Name:      "evaluations_total",
	Help:      "Number of Evaluate calls by the evaluation path selected.",
}, []string{"path"})

func init() {
	prometheus.MustRegister(evaluationsTotal)
}

// ErrShapeMismatch is returned when operand NDArrays don't broadcast to a
// common shape under the right-aligned, trailing-dimension NumPy rule
// (sizes must match, or one of them must be 1, once shapes are right-aligned
// by padding the shorter one with leading 1s).
var ErrShapeMismatch = errors.New("evalengine: operand shapes do not match")

// ErrEmptyReduction is returned by Reduce when asked to reduce a
// zero-length axis with no identity element available.
var ErrEmptyReduction = errors.New("evalengine: cannot reduce an empty axis")

// Operand is either *ndarray.NDArray or a float64 scalar constant.
type Operand any

// Path names which evaluation strategy Evaluate chose for a given set of
// operands, exposed for diagnostics and tests.
type Path int

const (
	PathFast Path = iota
	PathSliced
)

func (p Path) String() string {
	if p == PathFast {
		return "fast"
	}
	return "sliced"
}

// SelectPath reports which evaluation path a set of NDArray operands
// qualifies for: PathFast requires every array operand to be aligned and
// behaved and to share one common shape and chunk/block geometry; anything
// else (including a broadcast operand whose own shape is smaller than the
// others') falls back to PathSliced.
func SelectPath(operands map[string]Operand) Path {
	var refShape, refChunks, refBlocks []int
	for _, op := range operands {
		arr, ok := op.(*ndarray.NDArray)
		if !ok {
			continue
		}
		if !arr.Aligned() || !arr.Behaved() {
			return PathSliced
		}
		if refShape == nil {
			refShape, refChunks, refBlocks = arr.Shape(), arr.Chunks(), arr.Blocks()
			continue
		}
		if !intSliceEqual(refShape, arr.Shape()) || !intSliceEqual(refChunks, arr.Chunks()) || !intSliceEqual(refBlocks, arr.Blocks()) {
			return PathSliced
		}
	}
	return PathFast
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// commonShape returns the broadcast shape of every NDArray operand, using
// the right-aligned NumPy rule: shapes are compared from the trailing axis
// backward, and at each axis either the sizes agree or one of them is 1.
func commonShape(operands map[string]Operand) ([]int, error) {
	var shapes [][]int
	for _, op := range operands {
		arr, ok := op.(*ndarray.NDArray)
		if !ok {
			continue
		}
		shapes = append(shapes, arr.Shape())
	}
	if shapes == nil {
		return nil, fmt.Errorf("evalengine: expression has no array operands")
	}
	return broadcastShape(shapes)
}

// broadcastShape computes the NumPy-style broadcast of a set of shapes:
// the result has the rank of the longest input shape, and at each
// (right-aligned) axis the output size is whichever input size isn't 1 —
// any axis where two inputs disagree and neither is 1 is a shape mismatch.
func broadcastShape(shapes [][]int) ([]int, error) {
	rank := 0
	for _, s := range shapes {
		if len(s) > rank {
			rank = len(s)
		}
	}
	out := make([]int, rank)
	for i := range out {
		out[i] = 1
	}
	for _, s := range shapes {
		offset := rank - len(s)
		for i, d := range s {
			pos := offset + i
			switch {
			case d == 1:
				// stays broadcastable against whatever the other operands want
			case out[pos] == 1:
				out[pos] = d
			case out[pos] != d:
				return nil, ErrShapeMismatch
			}
		}
	}
	return out, nil
}

// broadcastStart/Stop map an output-space element range down to the
// corresponding range in one operand's own (lower- or equal-rank) shape,
// right-aligning axes and collapsing any size-1 operand axis to [0, 1)
// regardless of where in the output range it's being read from.
func broadcastRegion(opShape, outStart, outStop []int) (start, stop []int) {
	offset := len(outStart) - len(opShape)
	start = make([]int, len(opShape))
	stop = make([]int, len(opShape))
	for i := range opShape {
		if opShape[i] == 1 {
			start[i], stop[i] = 0, 1
			continue
		}
		d := offset + i
		start[i], stop[i] = outStart[d], outStop[d]
	}
	return start, stop
}

// broadcastFill replicates src (whose shape is srcShape, right-aligned and
// padded with leading 1-axes to outShape's rank) across outShape in
// row-major order, repeating any axis where srcShape is 1 but outShape
// isn't.
func broadcastFill(src []float64, srcShape, outShape []int) []float64 {
	rank := len(outShape)
	offset := rank - len(srcShape)
	fullSrcShape := make([]int, rank)
	for i := range fullSrcShape {
		fullSrcShape[i] = 1
	}
	copy(fullSrcShape[offset:], srcShape)

	srcStrides := rowMajorStrides(fullSrcShape)
	out := make([]float64, product(outShape))
	idx := make([]int, rank)
	for outPos := range out {
		srcPos := 0
		for d := 0; d < rank; d++ {
			srcIdx := idx[d]
			if fullSrcShape[d] == 1 {
				srcIdx = 0
			}
			srcPos += srcIdx * srcStrides[d]
		}
		out[outPos] = src[srcPos]

		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// rowMajorStrides and product duplicate ndarray's unexported equivalents;
// evalengine needs its own copies to compute broadcast fills locally.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Evaluate computes expr over operands and materializes the result as a new
// NDArray of dtype outDt. It selects the fast (chunk-at-a-time) path when
// every array operand shares one aligned, behaved geometry, and falls back
// to the sliced path (element-range intersection per chunk) otherwise. The
// fast path decodes every operand's chunks through PrefetchChunks and starts
// the scalar evaluation only once all of them are decoded, so decompression
// and evaluation do not overlap.
func Evaluate(expr exprlang.Expr, operands map[string]Operand, outDt dtype.Dtype) (*ndarray.NDArray, error) {
	shape, err := commonShape(operands)
	if err != nil {
		return nil, err
	}

	path := SelectPath(operands)
	evaluationsTotal.WithLabelValues(path.String()).Inc()

	var out *ndarray.NDArray
	if path == PathFast {
		var ref *ndarray.NDArray
		for _, op := range operands {
			if arr, ok := op.(*ndarray.NDArray); ok {
				ref = arr
				break
			}
		}
		out, err = ndarray.New(shape, outDt, ndarray.WithChunks(ref.Chunks()), ndarray.WithBlocks(ref.Blocks()))
	} else {
		out, err = ndarray.New(shape, outDt)
	}
	if err != nil {
		return nil, fmt.Errorf("evalengine: allocating result array: %w", err)
	}

	if path == PathFast {
		return evaluateFast(expr, operands, out)
	}
	return evaluateSliced(expr, operands, out, outDt)
}

// evaluateFast implements the chunk-at-a-time path: every array operand has
// identical, aligned/behaved chunk geometry to out, so chunk nchunk of every
// operand lines up one-to-one with output chunk nchunk. Each operand's
// chunks are all decoded through PrefetchChunks (at most 2 fetches at a
// time, 1 under BLOSC_LOW_MEM) and held in memory before the per-chunk
// evaluation loop starts, so decoding and computing run one after the other.
func evaluateFast(expr exprlang.Expr, operands map[string]Operand, out *ndarray.NDArray) (*ndarray.NDArray, error) {
	n := out.NChunks()
	decoded := make(map[string][][]float64, len(operands))
	for name, op := range operands {
		arr, ok := op.(*ndarray.NDArray)
		if !ok {
			continue
		}
		slots := make([][]float64, n)
		err := PrefetchChunks(context.Background(), n, func(nchunk int) ([]byte, error) {
			return arr.GetChunk(nchunk)
		}, func(nchunk int, data []byte) error {
			vals, err := bytesToFloat64s(data, arr.Dtype())
			if err != nil {
				return err
			}
			slots[nchunk] = vals
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("evalengine: prefetching operand %q: %w", name, err)
		}
		decoded[name] = slots
	}

	for nchunk := 0; nchunk < n; nchunk++ {
		count := product(out.ChunkExtent(out.ChunkCoords(nchunk)))
		result := make([]float64, count)
		for i := 0; i < count; i++ {
			elemEnv := make(map[string]float64, len(operands))
			for name, op := range operands {
				switch v := op.(type) {
				case *ndarray.NDArray:
					elemEnv[name] = decoded[name][nchunk][i]
				case float64:
					elemEnv[name] = v
				}
			}
			v, err := EvalScalar(expr, elemEnv)
			if err != nil {
				return nil, fmt.Errorf("evalengine: evaluating chunk %d element %d: %w", nchunk, i, err)
			}
			result[i] = v
		}
		encoded, err := float64sToBytes(result, out.Dtype())
		if err != nil {
			return nil, err
		}
		if err := out.UpdateChunk(nchunk, encoded); err != nil {
			return nil, fmt.Errorf("evalengine: writing chunk %d: %w", nchunk, err)
		}
	}
	return out, nil
}

// evaluateSliced implements the fallback path for mismatched or
// non-behaved operand geometries (including broadcast operands): each
// output chunk reads its own intersecting region from every operand via
// gatherEnv instead of a whole aligned chunk, so there's no uniform
// per-operand chunk index to hand PrefetchChunks.
func evaluateSliced(expr exprlang.Expr, operands map[string]Operand, out *ndarray.NDArray, outDt dtype.Dtype) (*ndarray.NDArray, error) {
	n := out.NChunks()
	for nchunk := 0; nchunk < n; nchunk++ {
		coords := out.ChunkCoords(nchunk)
		start := out.ChunkStart(coords)
		extent := out.ChunkExtent(coords)
		stop := make([]int, len(start))
		for i := range start {
			stop[i] = start[i] + extent[i]
		}

		env, count, err := gatherEnv(operands, start, stop)
		if err != nil {
			return nil, err
		}
		result := make([]float64, count)
		for i := 0; i < count; i++ {
			elemEnv := make(map[string]float64, len(env))
			for name, vals := range env {
				elemEnv[name] = vals[i]
			}
			v, err := EvalScalar(expr, elemEnv)
			if err != nil {
				return nil, fmt.Errorf("evalengine: evaluating chunk %d element %d: %w", nchunk, i, err)
			}
			result[i] = v
		}
		encoded, err := float64sToBytes(result, outDt)
		if err != nil {
			return nil, err
		}
		if err := out.UpdateChunk(nchunk, encoded); err != nil {
			return nil, fmt.Errorf("evalengine: writing chunk %d: %w", nchunk, err)
		}
	}
	return out, nil
}

// ElemFunc is a user-supplied elementwise callback: it receives one float64
// per operand, in the same positional order operands were given, and
// returns the computed value for that element. This is the evaluation
// mechanism behind a user-defined function (UDF) expression, as opposed to
// EvalScalar's tree-walking interpretation of a parsed exprlang.Expr.
type ElemFunc func(args []float64) (float64, error)

// EvaluateFunc materializes fn applied elementwise across operands (given
// positionally, unlike Evaluate's named operand map, since a UDF's
// arguments are an ordered tuple) as a new NDArray of dtype outDt. Unlike
// Evaluate, this always reads each output chunk's operand data through
// gatherEnv rather than choosing a chunk-aligned fast path: an arbitrary Go
// callback can't be fused into the per-chunk prefetch pipeline the way a
// parsed expression's scalar kernel can.
func EvaluateFunc(fn ElemFunc, operands []Operand, outDt dtype.Dtype) (*ndarray.NDArray, error) {
	names := make([]string, len(operands))
	opMap := make(map[string]Operand, len(operands))
	for i, op := range operands {
		name := fmt.Sprintf("o%d", i)
		names[i] = name
		opMap[name] = op
	}
	shape, err := commonShape(opMap)
	if err != nil {
		return nil, err
	}

	out, err := ndarray.New(shape, outDt)
	if err != nil {
		return nil, fmt.Errorf("evalengine: allocating UDF result: %w", err)
	}

	n := out.NChunks()
	for nchunk := 0; nchunk < n; nchunk++ {
		coords := out.ChunkCoords(nchunk)
		start := out.ChunkStart(coords)
		extent := out.ChunkExtent(coords)
		stop := make([]int, len(start))
		for i := range start {
			stop[i] = start[i] + extent[i]
		}

		env, count, err := gatherEnv(opMap, start, stop)
		if err != nil {
			return nil, err
		}
		result := make([]float64, count)
		args := make([]float64, len(names))
		for i := 0; i < count; i++ {
			for k, name := range names {
				args[k] = env[name][i]
			}
			v, err := fn(args)
			if err != nil {
				return nil, fmt.Errorf("evalengine: UDF at chunk %d element %d: %w", nchunk, i, err)
			}
			result[i] = v
		}
		encoded, err := float64sToBytes(result, outDt)
		if err != nil {
			return nil, err
		}
		if err := out.UpdateChunk(nchunk, encoded); err != nil {
			return nil, fmt.Errorf("evalengine: writing UDF chunk %d: %w", nchunk, err)
		}
	}
	return out, nil
}

// EvaluateSlice computes expr over operands restricted to the item range
// [start, stop), without ever materializing the full-shape result: it's the
// item/get-item evaluation path (E[0:10000], rather than a full Eval), and
// always reads operands through gatherEnv's region intersection, the same
// mechanism evaluateSliced uses per output chunk.
func EvaluateSlice(expr exprlang.Expr, operands map[string]Operand, outDt dtype.Dtype, start, stop []int) (*ndarray.NDArray, error) {
	fullShape, err := commonShape(operands)
	if err != nil {
		return nil, err
	}
	if len(start) != len(fullShape) || len(stop) != len(fullShape) {
		return nil, fmt.Errorf("evalengine: slice rank %d does not match expression rank %d", len(start), len(fullShape))
	}
	regionShape := make([]int, len(start))
	for i := range start {
		if start[i] < 0 || stop[i] > fullShape[i] || start[i] > stop[i] {
			return nil, fmt.Errorf("evalengine: slice [%d:%d] out of range for axis %d (size %d)", start[i], stop[i], i, fullShape[i])
		}
		regionShape[i] = stop[i] - start[i]
	}
	evaluationsTotal.WithLabelValues(PathSliced.String()).Inc()

	out, err := ndarray.New(regionShape, outDt, ndarray.WithChunks(regionShape), ndarray.WithBlocks(regionShape))
	if err != nil {
		return nil, fmt.Errorf("evalengine: allocating slice result: %w", err)
	}

	env, count, err := gatherEnv(operands, start, stop)
	if err != nil {
		return nil, err
	}
	result := make([]float64, count)
	for i := 0; i < count; i++ {
		elemEnv := make(map[string]float64, len(env))
		for name, vals := range env {
			elemEnv[name] = vals[i]
		}
		v, err := EvalScalar(expr, elemEnv)
		if err != nil {
			return nil, fmt.Errorf("evalengine: evaluating slice element %d: %w", i, err)
		}
		result[i] = v
	}
	encoded, err := float64sToBytes(result, outDt)
	if err != nil {
		return nil, err
	}
	if err := out.UpdateChunk(0, encoded); err != nil {
		return nil, fmt.Errorf("evalengine: writing slice result: %w", err)
	}
	return out, nil
}

// gatherEnv reads the [start, stop) output-space region from every NDArray
// operand (decoding to float64), broadcasting each one up to that region's
// shape per the right-aligned NumPy rule, and broadcasts every scalar
// operand across the same element count, returning one flat slice per
// operand name in the output region's row-major order.
func gatherEnv(operands map[string]Operand, start, stop []int) (map[string][]float64, int, error) {
	outShape := make([]int, len(start))
	for i := range start {
		outShape[i] = stop[i] - start[i]
	}
	count := product(outShape)

	env := make(map[string][]float64, len(operands))
	for name, op := range operands {
		switch v := op.(type) {
		case *ndarray.NDArray:
			opShape := v.Shape()
			opStart, opStop := broadcastRegion(opShape, start, stop)
			raw, err := v.GetSlice(opStart, opStop)
			if err != nil {
				return nil, 0, fmt.Errorf("evalengine: reading operand %q: %w", name, err)
			}
			vals, err := bytesToFloat64s(raw, v.Dtype())
			if err != nil {
				return nil, 0, err
			}
			srcShape := make([]int, len(opStop))
			for i := range srcShape {
				srcShape[i] = opStop[i] - opStart[i]
			}
			if intSliceEqual(srcShape, outShape) {
				env[name] = vals
			} else {
				env[name] = broadcastFill(vals, srcShape, outShape)
			}
		case float64:
			vals := make([]float64, count)
			for i := range vals {
				vals[i] = v
			}
			env[name] = vals
		default:
			return nil, 0, fmt.Errorf("evalengine: operand %q has unsupported type %T", name, op)
		}
	}
	return env, count, nil
}
