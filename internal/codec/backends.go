package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecID names a byte-level compressor; the chunk header reserves a byte
// for it.
type CodecID uint8

const (
	BloscLZ CodecID = iota
	LZ4
	LZ4HC
	Zlib
	Zstd
)

func (c CodecID) String() string {
	switch c {
	case BloscLZ:
		return "blosclz"
	case LZ4:
		return "lz4"
	case LZ4HC:
		return "lz4hc"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Backend compresses and decompresses whole blocks of bytes. Level follows
// each codec's own native scale; CParams maps the shared 0-9 clevel onto it.
type Backend interface {
	ID() CodecID
	Compress(src []byte, level int) ([]byte, error)
	Decompress(src []byte, dstLen int) ([]byte, error)
}

// NewBackend resolves a CodecID to its concrete Backend. Every entry here
// corresponds to a DOMAIN STACK line: BloscLZ approximated by snappy (both
// are byte-oriented LZ77 variants tuned for speed over ratio), LZ4/LZ4HC by
// pierrec/lz4, Zlib by the standard library (no third-party package improves
// on compress/zlib for plain DEFLATE), and Zstd by klauspost/compress/zstd.
func NewBackend(id CodecID) (Backend, error) {
	switch id {
	case BloscLZ:
		return snappyBackend{}, nil
	case LZ4:
		return lz4Backend{highCompression: false}, nil
	case LZ4HC:
		return lz4Backend{highCompression: true}, nil
	case Zlib:
		return zlibBackend{}, nil
	case Zstd:
		return zstdBackend{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec id %d", id)
	}
}

// snappyBackend stands in for BloscLZ: both are simple, allocation-light
// LZ77 compressors optimized for decompression speed over ratio.
type snappyBackend struct{}

func (snappyBackend) ID() CodecID { return BloscLZ }

func (snappyBackend) Compress(src []byte, _ int) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyBackend) Decompress(src []byte, dstLen int) ([]byte, error) {
	dst := make([]byte, dstLen)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("codec: snappy decode: %w", err)
	}
	return out, nil
}

type lz4Backend struct{ highCompression bool }

func (b lz4Backend) ID() CodecID {
	if b.highCompression {
		return LZ4HC
	}
	return LZ4
}

func (b lz4Backend) Compress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{}
	if b.highCompression {
		opts = append(opts, lz4.CompressionLevelOption(lz4.Level9))
	} else if level > 0 {
		opts = append(opts, lz4.CompressionLevelOption(lz4.Fast))
	}
	if err := w.Apply(opts...); err != nil {
		return nil, fmt.Errorf("codec: lz4 options: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("codec: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Backend) Decompress(src []byte, dstLen int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	dst := make([]byte, dstLen)
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
	}
	return dst, nil
}

type zlibBackend struct{}

func (zlibBackend) ID() CodecID { return Zlib }

func (zlibBackend) Compress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zlevel := zlib.DefaultCompression
	if level >= 0 && level <= 9 {
		zlevel = level
	}
	w, err := zlib.NewWriterLevel(&buf, zlevel)
	if err != nil {
		return nil, fmt.Errorf("codec: zlib writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("codec: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibBackend) Decompress(src []byte, dstLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("codec: zlib reader: %w", err)
	}
	defer r.Close()
	dst := make([]byte, dstLen)
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, fmt.Errorf("codec: zlib decompress: %w", err)
	}
	return dst, nil
}

type zstdBackend struct{}

func (zstdBackend) ID() CodecID { return Zstd }

func (zstdBackend) Compress(src []byte, level int) ([]byte, error) {
	el := zstd.SpeedDefault
	switch {
	case level <= 1:
		el = zstd.SpeedFastest
	case level >= 8:
		el = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(el))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdBackend) Decompress(src []byte, dstLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, dstLen))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decode: %w", err)
	}
	return out, nil
}
