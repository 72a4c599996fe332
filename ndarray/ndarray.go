// Package ndarray implements NDArray: a chunked, compressed, n-dimensional
// array built on top of schunk.SChunk, with chunk-grid indexing and
// axis-aligned slice read/write.
package ndarray

import (
	"errors"
	"fmt"

	"github.com/dkellerman/ndchunk/internal/codec"
	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/partition"
	"github.com/dkellerman/ndchunk/schunk"
)

// ErrUnsupportedStep is returned by any slicing operation given a step other
// than 1; the core spec (§2's "Non-goals") excludes strided item slices.
var ErrUnsupportedStep = errors.New("ndarray: only step=1 slices are supported")

// ErrRankMismatch is returned when a shape/index argument's length doesn't
// match the array's rank.
var ErrRankMismatch = errors.New("ndarray: rank mismatch")

// Option configures an NDArray at construction time.
type Option func(*config)

type config struct {
	userChunks []int
	userBlocks []int
	cparams    codec.CParams
	dparams    codec.DParams
}

// WithChunks fixes the per-axis chunk shape, bypassing the automatic
// geometry heuristic. Without WithBlocks, the block shape is derived from
// the chunk shape.
func WithChunks(chunks []int) Option {
	return func(c *config) { c.userChunks = chunks }
}

// WithBlocks fixes the per-axis block shape within each chunk. Must be
// paired with WithChunks.
func WithBlocks(blocks []int) Option {
	return func(c *config) { c.userBlocks = blocks }
}

// WithCParams overrides the default compression parameters.
func WithCParams(cparams codec.CParams) Option {
	return func(c *config) { c.cparams = cparams }
}

// WithDParams overrides the default decompression parameters.
func WithDParams(dparams codec.DParams) Option {
	return func(c *config) { c.dparams = dparams }
}

// NDArray is a chunked, compressed n-dimensional array of a single Dtype.
type NDArray struct {
	shape  []int
	dt     dtype.Dtype
	chunks []int
	blocks []int
	perDim []int // number of chunks along each axis

	sc *schunk.SChunk
}

// New creates a zero-filled NDArray of the given shape and dtype. Every
// chunk starts as a special ZERO chunk, so construction never touches the
// compressor.
func New(shape []int, dt dtype.Dtype, opts ...Option) (*NDArray, error) {
	if err := dt.Validate(); err != nil {
		return nil, fmt.Errorf("ndarray: %w", err)
	}
	for i, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("ndarray: negative extent at axis %d", i)
		}
	}

	cfg := &config{
		cparams: codec.NewCParams(codec.WithTypesize(dt.Itemsize)),
		dparams: codec.NewDParams(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache := partition.DetectCacheSizes()
	geom, err := partition.ComputeChunksBlocks(shape, cfg.userChunks, cfg.userBlocks, dt.Itemsize, 5, cache)
	if err != nil {
		return nil, fmt.Errorf("ndarray: %w", err)
	}

	chunksize := product(geom.Chunks) * dt.Itemsize
	sc, err := schunk.New(dt.Itemsize, chunksize, cfg.cparams, cfg.dparams)
	if err != nil {
		return nil, fmt.Errorf("ndarray: %w", err)
	}

	a := &NDArray{
		shape:  append([]int(nil), shape...),
		dt:     dt,
		chunks: geom.Chunks,
		blocks: geom.Blocks,
		perDim: chunksPerAxis(shape, geom.Chunks),
		sc:     sc,
	}

	n := totalChunks(a.perDim)
	for i := 0; i < n; i++ {
		coords := chunkCoords(i, a.perDim)
		extent := chunkExtent(coords, a.shape, a.chunks)
		nbytes := product(extent) * dt.Itemsize
		if _, err := sc.AppendChunkTagged(nbytes, codec.Zero); err != nil {
			return nil, fmt.Errorf("ndarray: initializing chunk %d: %w", i, err)
		}
	}
	return a, nil
}

// FromSChunk wraps an already-populated schunk.SChunk as an NDArray without
// zero-filling it, for callers (the persistence layer) restoring an array
// whose chunks were loaded from storage rather than freshly allocated.
func FromSChunk(shape []int, dt dtype.Dtype, chunks, blocks []int, sc *schunk.SChunk) *NDArray {
	return &NDArray{
		shape:  append([]int(nil), shape...),
		dt:     dt,
		chunks: append([]int(nil), chunks...),
		blocks: append([]int(nil), blocks...),
		perDim: chunksPerAxis(shape, chunks),
		sc:     sc,
	}
}

// Shape returns the array's per-axis extents.
func (a *NDArray) Shape() []int { return append([]int(nil), a.shape...) }

// Dtype returns the array's element type.
func (a *NDArray) Dtype() dtype.Dtype { return a.dt }

// Chunks returns the per-axis chunk shape.
func (a *NDArray) Chunks() []int { return append([]int(nil), a.chunks...) }

// Blocks returns the per-axis block shape.
func (a *NDArray) Blocks() []int { return append([]int(nil), a.blocks...) }

// SChunk exposes the backing compressed-chunk store, for callers (the
// evaluator, the proxy layer) that need direct chunk-level access.
func (a *NDArray) SChunk() *schunk.SChunk { return a.sc }

// Aligned reports whether every chunk divides into a whole number of
// blocks.
func (a *NDArray) Aligned() bool {
	return partition.AreAligned(a.shape, a.chunks, a.blocks)
}

// Behaved reports aligned geometry with no boundary padding, a precondition
// for the fast evaluation path.
func (a *NDArray) Behaved() bool {
	return partition.AreBehaved(a.shape, a.chunks, a.blocks)
}

// NChunks returns the total number of chunks in the array's chunk grid.
func (a *NDArray) NChunks() int { return totalChunks(a.perDim) }

// ChunkCoords decomposes a linear chunk index into per-axis chunk
// coordinates.
func (a *NDArray) ChunkCoords(nchunk int) []int { return chunkCoords(nchunk, a.perDim) }

// NChunkFromCoords is ChunkCoords's inverse.
func (a *NDArray) NChunkFromCoords(coords []int) (int, error) {
	if len(coords) != len(a.shape) {
		return 0, ErrRankMismatch
	}
	return nchunkFromCoords(coords, a.perDim), nil
}

// ChunkExtent returns chunk coords's actual (possibly boundary-truncated)
// shape.
func (a *NDArray) ChunkExtent(coords []int) []int {
	return chunkExtent(coords, a.shape, a.chunks)
}

// ChunkStart returns chunk coords's starting element offset along every
// axis.
func (a *NDArray) ChunkStart(coords []int) []int {
	return chunkStart(coords, a.chunks)
}

// GetChunk returns the decompressed raw bytes of chunk nchunk, laid out
// row-major over that chunk's (possibly boundary-truncated) extent.
func (a *NDArray) GetChunk(nchunk int) ([]byte, error) {
	return a.sc.GetChunk(nchunk)
}

// GetLazychunk returns chunk nchunk's header without decompressing its
// payload.
func (a *NDArray) GetLazychunk(nchunk int) (codec.Header, error) {
	return a.sc.GetLazychunk(nchunk)
}

// UpdateChunk replaces chunk nchunk's raw contents in place.
func (a *NDArray) UpdateChunk(nchunk int, data []byte) error {
	return a.sc.UpdateChunk(nchunk, data)
}

// normalizeIndex resolves a possibly-negative, possibly-nil start/stop pair
// for one axis to an explicit [start, stop) range within [0, dim], mirroring
// Python slice semantics.
func normalizeIndex(start, stop *int, dim int) (int, int) {
	s, e := 0, dim
	if start != nil {
		s = *start
		if s < 0 {
			s += dim
		}
		if s < 0 {
			s = 0
		}
		if s > dim {
			s = dim
		}
	}
	if stop != nil {
		e = *stop
		if e < 0 {
			e += dim
		}
		if e < 0 {
			e = 0
		}
		if e > dim {
			e = dim
		}
	}
	if e < s {
		e = s
	}
	return s, e
}

// Slice describes one axis of an item access: Start/Stop follow Python
// slice conventions (nil Stop means "to the end"); Step must be 1 or
// omitted (0), since strided slices are out of scope.
type Slice struct {
	Start *int
	Stop  *int
	Step  int
}

// ResolveSlices normalizes a per-axis slice list against the array's shape,
// returning explicit [start, stop) bounds for every axis. Missing trailing
// axes default to the full extent.
func (a *NDArray) ResolveSlices(slices []Slice) ([]int, []int, error) {
	rank := len(a.shape)
	if len(slices) > rank {
		return nil, nil, ErrRankMismatch
	}
	starts := make([]int, rank)
	stops := make([]int, rank)
	for d := 0; d < rank; d++ {
		if d < len(slices) {
			sl := slices[d]
			if sl.Step != 0 && sl.Step != 1 {
				return nil, nil, ErrUnsupportedStep
			}
			s, e := normalizeIndex(sl.Start, sl.Stop, a.shape[d])
			starts[d], stops[d] = s, e
		} else {
			starts[d], stops[d] = 0, a.shape[d]
		}
	}
	return starts, stops, nil
}

// GetSlice reads the axis-aligned rectangular region [starts, stops) into a
// freshly allocated, densely packed row-major byte buffer. It walks every
// chunk that intersects the region, decompressing only those chunks.
func (a *NDArray) GetSlice(starts, stops []int) ([]byte, error) {
	if len(starts) != len(a.shape) || len(stops) != len(a.shape) {
		return nil, ErrRankMismatch
	}
	outShape := make([]int, len(a.shape))
	for d := range outShape {
		outShape[d] = stops[d] - starts[d]
	}
	out := make([]byte, product(outShape)*a.dt.Itemsize)
	outStrides := rowMajorStrides(outShape)

	n := a.NChunks()
	for nchunk := 0; nchunk < n; nchunk++ {
		coords := a.ChunkCoords(nchunk)
		cstart := a.ChunkStart(coords)
		cext := a.ChunkExtent(coords)

		// Intersect this chunk's element range with the requested region.
		ixStart := make([]int, len(a.shape))
		ixStop := make([]int, len(a.shape))
		skip := false
		for d := range a.shape {
			lo := max(starts[d], cstart[d])
			hi := min(stops[d], cstart[d]+cext[d])
			if lo >= hi {
				skip = true
				break
			}
			ixStart[d], ixStop[d] = lo, hi
		}
		if skip {
			continue
		}

		chunkData, err := a.GetChunk(nchunk)
		if err != nil {
			return nil, fmt.Errorf("ndarray: reading chunk %d: %w", nchunk, err)
		}
		chunkStrides := rowMajorStrides(cext)
		copyRegion(out, outStrides, starts, chunkData, chunkStrides, cstart, ixStart, ixStop, a.dt.Itemsize)
	}
	return out, nil
}

// copyRegion copies the hyper-rectangle [ixStart, ixStop) (in global element
// coordinates) from a chunk buffer into the matching region of an output
// buffer, recursing one axis at a time.
func copyRegion(out []byte, outStrides []int, outOrigin []int, in []byte, inStrides []int, inOrigin []int, ixStart, ixStop []int, itemsize int) {
	rank := len(ixStart)
	idx := make([]int, rank)
	copy(idx, ixStart)
	for {
		outOff := 0
		inOff := 0
		for d := 0; d < rank; d++ {
			outOff += (idx[d] - outOrigin[d]) * outStrides[d]
			inOff += (idx[d] - inOrigin[d]) * inStrides[d]
		}
		outByte := outOff * itemsize
		inByte := inOff * itemsize
		copy(out[outByte:outByte+itemsize], in[inByte:inByte+itemsize])

		d := rank - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < ixStop[d] {
				break
			}
			idx[d] = ixStart[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// UpdateData writes a densely packed row-major buffer into the axis-aligned
// rectangular region [starts, stops), recompressing every chunk it touches.
func (a *NDArray) UpdateData(starts, stops []int, data []byte) error {
	if len(starts) != len(a.shape) || len(stops) != len(a.shape) {
		return ErrRankMismatch
	}
	inShape := make([]int, len(a.shape))
	for d := range inShape {
		inShape[d] = stops[d] - starts[d]
	}
	if product(inShape)*a.dt.Itemsize != len(data) {
		return fmt.Errorf("ndarray: data length %d does not match region %v", len(data), inShape)
	}
	inStrides := rowMajorStrides(inShape)

	n := a.NChunks()
	for nchunk := 0; nchunk < n; nchunk++ {
		coords := a.ChunkCoords(nchunk)
		cstart := a.ChunkStart(coords)
		cext := a.ChunkExtent(coords)

		ixStart := make([]int, len(a.shape))
		ixStop := make([]int, len(a.shape))
		skip := false
		for d := range a.shape {
			lo := max(starts[d], cstart[d])
			hi := min(stops[d], cstart[d]+cext[d])
			if lo >= hi {
				skip = true
				break
			}
			ixStart[d], ixStop[d] = lo, hi
		}
		if skip {
			continue
		}

		chunkData, err := a.GetChunk(nchunk)
		if err != nil {
			return fmt.Errorf("ndarray: reading chunk %d: %w", nchunk, err)
		}
		chunkStrides := rowMajorStrides(cext)
		copyRegion(chunkData, chunkStrides, cstart, data, inStrides, starts, ixStart, ixStop, a.dt.Itemsize)
		if err := a.UpdateChunk(nchunk, chunkData); err != nil {
			return fmt.Errorf("ndarray: writing chunk %d: %w", nchunk, err)
		}
	}
	return nil
}
