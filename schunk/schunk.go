// Package schunk implements SChunk: an ordered sequence of independently
// compressed chunks sharing one typesize, chunksize, and set of compression
// parameters, plus a small variable-length metadata store (vlmeta).
package schunk

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dkellerman/ndchunk/internal/codec"
)

// ErrChunkOutOfRange is returned by any by-index accessor given an nchunk
// outside [0, NChunks()).
var ErrChunkOutOfRange = errors.New("schunk: chunk index out of range")

// Stats are cheap running counters exposed alongside the data they
// describe, not a reason to add a metrics dependency by itself.
type Stats struct {
	ChunksAppended   uint64
	ChunksUpdated    uint64
	BytesDecompCache uint64
}

// Option configures an SChunk at construction time.
type Option func(*SChunk)

// WithVLMeta seeds the variable-length metadata map.
func WithVLMeta(meta map[string][]byte) Option {
	return func(s *SChunk) {
		for k, v := range meta {
			s.vlmeta[k] = v
		}
	}
}

// WithDecompCacheSize overrides the default whole-chunk decompression cache
// capacity (number of chunks, not bytes).
func WithDecompCacheSize(n int) Option {
	return func(s *SChunk) { s.cacheSize = n }
}

const defaultCacheSize = 64

// SChunk is an ordered list of compressed chunks plus their shared codec
// configuration. It never holds more than one chunk's worth of decompressed
// data resident except through its bounded LRU cache.
type SChunk struct {
	mu sync.Mutex

	typesize  int
	chunksize int
	cparams   codec.CParams
	dparams   codec.DParams

	chunks [][]byte // each entry is a full wire-format chunk (header + payload)
	vlmeta map[string][]byte

	cacheSize int
	cache     *lru.Cache[int, []byte]

	stats Stats
}

// New creates an empty SChunk with the given per-element size, target
// uncompressed chunk size, and compression/decompression parameters.
func New(typesize, chunksize int, cparams codec.CParams, dparams codec.DParams, opts ...Option) (*SChunk, error) {
	if typesize <= 0 {
		return nil, fmt.Errorf("schunk: typesize must be positive, got %d", typesize)
	}
	if chunksize <= 0 {
		return nil, fmt.Errorf("schunk: chunksize must be positive, got %d", chunksize)
	}
	s := &SChunk{
		typesize:  typesize,
		chunksize: chunksize,
		cparams:   cparams,
		dparams:   dparams,
		vlmeta:    make(map[string][]byte),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.New[int, []byte](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("schunk: building decompression cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// NChunks returns the number of chunks currently stored.
func (s *SChunk) NChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Typesize returns the per-element size in bytes.
func (s *SChunk) Typesize() int { return s.typesize }

// Chunksize returns the nominal (uncompressed) size of a full chunk.
func (s *SChunk) Chunksize() int { return s.chunksize }

// CParams returns the compression parameters chunks are (re)compressed with.
func (s *SChunk) CParams() codec.CParams { return s.cparams }

// DParams returns the decompression parameters chunks are read with.
func (s *SChunk) DParams() codec.DParams { return s.dparams }

// RawChunk returns the full wire-format bytes (header + payload) of chunk
// nchunk, for callers persisting the store without touching the codec.
func (s *SChunk) RawChunk(nchunk int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkAt(nchunk)
}

// AppendRawChunk appends a pre-encoded wire-format chunk verbatim, used when
// restoring a persisted store without recompressing.
func (s *SChunk) AppendRawChunk(wire []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.chunks)
	s.chunks = append(s.chunks, append([]byte(nil), wire...))
	return idx
}

// Nbytes returns the total logical (uncompressed) size across all chunks.
func (s *SChunk) Nbytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, c := range s.chunks {
		if h, ok := codec.ReadHeader(c); ok {
			total += int64(h.Nbytes())
		}
	}
	return total
}

// Cbytes returns the total physical (stored, compressed) size across all
// chunks, including special-tagged chunks which store only a header.
func (s *SChunk) Cbytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, c := range s.chunks {
		total += int64(len(c))
	}
	return total
}

// Stats returns a snapshot of the running counters.
func (s *SChunk) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// detectSpecialTag reports the SpecialTag that best describes data: Zero if
// every byte is zero, NotSpecial otherwise. Only the Zero case is
// detected; neither SChunk nor the ndarray layer assigns the Value or NaN
// tags.
func detectSpecialTag(data []byte) codec.SpecialTag {
	for _, b := range data {
		if b != 0 {
			return codec.NotSpecial
		}
	}
	return codec.Zero
}

// AppendChunk compresses and appends one raw (uncompressed) chunk's worth of
// data, returning its index. data need not equal chunksize exactly (the
// final chunk of an array is commonly shorter).
func (s *SChunk) AppendChunk(data []byte) (int, error) {
	tag := detectSpecialTag(data)
	wire, err := codec.Compress(data, s.cparams, tag)
	if err != nil {
		return 0, fmt.Errorf("schunk: append chunk: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.chunks)
	s.chunks = append(s.chunks, wire)
	s.stats.ChunksAppended++
	return idx, nil
}

// AppendChunkTagged appends a pre-tagged, header-only special chunk (used by
// the ndarray layer to start every chunk of a new array as a Zero chunk).
func (s *SChunk) AppendChunkTagged(nbytes int, tag codec.SpecialTag) (int, error) {
	wire, err := codec.Compress(make([]byte, nbytes), s.cparams, tag)
	if err != nil {
		return 0, fmt.Errorf("schunk: append tagged chunk: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.chunks)
	s.chunks = append(s.chunks, wire)
	s.stats.ChunksAppended++
	return idx, nil
}

// GetLazychunk returns the decoded header of chunk nchunk without touching
// its compressed payload, letting callers check the special tag cheaply.
func (s *SChunk) GetLazychunk(nchunk int) (codec.Header, error) {
	s.mu.Lock()
	wire, err := s.chunkAt(nchunk)
	s.mu.Unlock()
	if err != nil {
		return codec.Header{}, err
	}
	h, err := codec.GetLazychunk(wire)
	if err != nil {
		return codec.Header{}, fmt.Errorf("schunk: %w", err)
	}
	return h, nil
}

// GetChunk returns the decompressed bytes of chunk nchunk, using the
// bounded decompression cache to avoid re-inflating hot chunks. Special
// (ZERO/UNINIT/NAN) chunks are synthesized on every call rather than
// cached, since they cost nothing to regenerate and caching them would only
// consume cache slots better spent on real data.
func (s *SChunk) GetChunk(nchunk int) ([]byte, error) {
	s.mu.Lock()
	wire, err := s.chunkAt(nchunk)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h, ok := codec.ReadHeader(wire)
	if !ok {
		return nil, fmt.Errorf("schunk: chunk %d has no header", nchunk)
	}
	if h.SpecialTag() != codec.NotSpecial {
		return codec.Decompress(wire, s.cparams, s.dparams)
	}

	if cached, ok := s.cache.Get(nchunk); ok {
		return cached, nil
	}
	data, err := codec.Decompress(wire, s.cparams, s.dparams)
	if err != nil {
		return nil, fmt.Errorf("schunk: decompress chunk %d: %w", nchunk, err)
	}
	s.cache.Add(nchunk, data)
	s.mu.Lock()
	s.stats.BytesDecompCache += uint64(len(data))
	s.mu.Unlock()
	return data, nil
}

// DecompressChunk is an alias for GetChunk kept for callers that want to
// name the decompression step explicitly.
func (s *SChunk) DecompressChunk(nchunk int) ([]byte, error) {
	return s.GetChunk(nchunk)
}

// UpdateChunk replaces the contents of chunk nchunk in place, recompressing
// data and invalidating any cached decompressed copy.
func (s *SChunk) UpdateChunk(nchunk int, data []byte) error {
	tag := detectSpecialTag(data)
	wire, err := codec.Compress(data, s.cparams, tag)
	if err != nil {
		return fmt.Errorf("schunk: update chunk %d: %w", nchunk, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if nchunk < 0 || nchunk >= len(s.chunks) {
		return fmt.Errorf("%w: %d", ErrChunkOutOfRange, nchunk)
	}
	s.chunks[nchunk] = wire
	s.cache.Remove(nchunk)
	s.stats.ChunksUpdated++
	return nil
}

// ReplaceChunkTagged overwrites chunk nchunk with a fresh special-tagged
// header-only chunk of the given logical size, discarding whatever was
// there before. Used by the proxy layer to reset a chunk to Uninit without
// needing the discarded payload.
func (s *SChunk) ReplaceChunkTagged(nchunk, nbytes int, tag codec.SpecialTag) error {
	wire, err := codec.Compress(make([]byte, nbytes), s.cparams, tag)
	if err != nil {
		return fmt.Errorf("schunk: replace tagged chunk: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if nchunk < 0 || nchunk >= len(s.chunks) {
		return fmt.Errorf("%w: %d", ErrChunkOutOfRange, nchunk)
	}
	s.chunks[nchunk] = wire
	s.cache.Remove(nchunk)
	return nil
}

// chunkAt returns the raw wire-format bytes for nchunk. Caller must hold mu.
func (s *SChunk) chunkAt(nchunk int) ([]byte, error) {
	if nchunk < 0 || nchunk >= len(s.chunks) {
		return nil, fmt.Errorf("%w: %d", ErrChunkOutOfRange, nchunk)
	}
	return s.chunks[nchunk], nil
}

// VLMeta returns the value stored under key, if any.
func (s *SChunk) VLMeta(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vlmeta[key]
	return v, ok
}

// SetVLMeta stores value under key in the variable-length metadata map,
// used for persisted LazyExpr expressions and proxy source descriptors.
func (s *SChunk) SetVLMeta(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vlmeta[key] = value
}

// VLMetaKeys returns the set of variable-length metadata keys present.
func (s *SChunk) VLMetaKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.vlmeta))
	for k := range s.vlmeta {
		keys = append(keys, k)
	}
	return keys
}
