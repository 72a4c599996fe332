package codec

import "fmt"

// CParams configures compression: codec, level, filter pipeline, and the
// special-value short circuits that let a chunk skip the compressor
// entirely (a ZERO chunk, for instance, is never decompressed).
type CParams struct {
	codec     CodecID
	clevel    int
	filters   []FilterSpec
	typesize  int
	splitMode bool
}

// CParamsOption configures a CParams via functional options.
type CParamsOption func(*CParams)

func defaultCParams() *CParams {
	return &CParams{
		codec:    Zstd,
		clevel:   5,
		filters:  []FilterSpec{{ID: Shuffle}},
		typesize: 8,
	}
}

// NewCParams builds compression parameters from options, defaulting to
// zstd at level 5 with byte shuffle.
func NewCParams(opts ...CParamsOption) CParams {
	p := defaultCParams()
	for _, opt := range opts {
		opt(p)
	}
	return *p
}

// WithCodec selects the byte-level compressor.
func WithCodec(id CodecID) CParamsOption {
	return func(p *CParams) { p.codec = id }
}

// WithClevel sets the compression level, 0 to 9. Each backend maps it onto
// its own scale; only zlib stores the data uncompressed at 0, while lz4 and
// zstd still compress at that level.
func WithClevel(level int) CParamsOption {
	return func(p *CParams) {
		if level >= 0 && level <= 9 {
			p.clevel = level
		}
	}
}

// WithFilters replaces the filter pipeline, applied in the given order.
func WithFilters(specs ...FilterSpec) CParamsOption {
	return func(p *CParams) { p.filters = specs }
}

// WithTypesize records the element size the filters operate on (shuffle and
// delta need it to find element boundaries).
func WithTypesize(n int) CParamsOption {
	return func(p *CParams) {
		if n > 0 {
			p.typesize = n
		}
	}
}

// Codec returns the configured byte-level compressor.
func (p CParams) Codec() CodecID { return p.codec }

// Clevel returns the configured compression level.
func (p CParams) Clevel() int { return p.clevel }

// Filters returns the configured filter pipeline, in application order.
func (p CParams) Filters() []FilterSpec { return append([]FilterSpec(nil), p.filters...) }

// Typesize returns the configured element size.
func (p CParams) Typesize() int { return p.typesize }

// SplitMode reports whether per-block splitting was requested.
func (p CParams) SplitMode() bool { return p.splitMode }

// WithSplitMode requests per-block rather than whole-chunk compression.
// Block splitting is an out-of-scope codec-kernel optimization; this flag
// is accepted for API compatibility and currently has no effect beyond
// being readable back from CParams.
func WithSplitMode(split bool) CParamsOption {
	return func(p *CParams) { p.splitMode = split }
}

// DParams configures decompression. Present for API symmetry with CParams
// and to carry a worker-count hint through to the codec kernel.
type DParams struct {
	numThreads int
}

// DParamsOption configures a DParams via functional options.
type DParamsOption func(*DParams)

func defaultDParams() *DParams {
	return &DParams{numThreads: 1}
}

// NewDParams builds decompression parameters from options.
func NewDParams(opts ...DParamsOption) DParams {
	p := defaultDParams()
	for _, opt := range opts {
		opt(p)
	}
	return *p
}

// WithNumThreads sets the decompression worker count hint.
func WithNumThreads(n int) DParamsOption {
	return func(p *DParams) {
		if n > 0 {
			p.numThreads = n
		}
	}
}

// Compress encodes data (one chunk's worth of raw bytes) into a chunk buffer:
// header, then filtered+compressed payload. tag, when not NotSpecial, skips
// the filter/compress step entirely and emits a header-only chunk.
func Compress(data []byte, cparams CParams, tag SpecialTag) ([]byte, error) {
	var h Header
	h.SetTypesize(uint8(cparams.typesize))
	h.SetNbytes(uint32(len(data)))
	h.SetSpecialTag(tag)

	if tag != NotSpecial {
		h.SetCbytes(HeaderSize)
		h.SetBlocksize(0)
		out := make([]byte, HeaderSize)
		copy(out, h[:])
		return out, nil
	}

	pipeline, err := NewPipeline(cparams.filters)
	if err != nil {
		return nil, err
	}
	filtered := pipeline.Apply(data, cparams.typesize)

	backend, err := NewBackend(cparams.codec)
	if err != nil {
		return nil, err
	}
	compressed, err := backend.Compress(filtered, cparams.clevel)
	if err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}

	h.SetBlocksize(uint32(len(data)))
	h.SetCbytes(uint32(HeaderSize + len(compressed)))

	out := make([]byte, 0, HeaderSize+len(compressed))
	out = append(out, h[:]...)
	out = append(out, compressed...)
	return out, nil
}

// Decompress reverses Compress, returning the original raw bytes. For
// special-tagged chunks it synthesizes the data rather than reading a
// payload, since none was stored.
func Decompress(chunk []byte, cparams CParams, dparams DParams) ([]byte, error) {
	h, ok := ReadHeader(chunk)
	if !ok {
		return nil, fmt.Errorf("codec: chunk shorter than header (%d bytes)", len(chunk))
	}

	nbytes := int(h.Nbytes())
	tag := h.SpecialTag()
	if tag != NotSpecial {
		return synthesizeSpecial(tag, nbytes, int(h.Typesize())), nil
	}

	payload := chunk[HeaderSize:]
	backend, err := NewBackend(cparams.codec)
	if err != nil {
		return nil, err
	}
	filtered, err := backend.Decompress(payload, nbytes)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}

	pipeline, err := NewPipeline(cparams.filters)
	if err != nil {
		return nil, err
	}
	return pipeline.Reverse(filtered, cparams.typesize), nil
}

// synthesizeSpecial materializes the logical content of a special-tagged
// chunk without ever having stored it: all-zero for Zero/Uninit, all-NaN
// bit pattern for NaN (only meaningful for float32/float64 itemsize), and
// a zero buffer for Value: Compress stores no fill value in a Value chunk,
// so such a chunk decodes to zeros.
func synthesizeSpecial(tag SpecialTag, nbytes, itemsize int) []byte {
	out := make([]byte, nbytes)
	if tag != NaN || itemsize <= 0 {
		return out
	}
	switch itemsize {
	case 4:
		// float32 quiet-NaN bit pattern, little-endian.
		pattern := [4]byte{0x00, 0x00, 0xc0, 0x7f}
		for off := 0; off+4 <= nbytes; off += 4 {
			copy(out[off:off+4], pattern[:])
		}
	case 8:
		pattern := [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x7f}
		for off := 0; off+8 <= nbytes; off += 8 {
			copy(out[off:off+8], pattern[:])
		}
	}
	return out
}

// GetLazychunk returns just the decoded Header of a chunk, without touching
// its compressed payload, for callers that only need the special-value tag
// or sizes.
func GetLazychunk(chunk []byte) (Header, error) {
	h, ok := ReadHeader(chunk)
	if !ok {
		return Header{}, fmt.Errorf("codec: chunk shorter than header (%d bytes)", len(chunk))
	}
	return h, nil
}
