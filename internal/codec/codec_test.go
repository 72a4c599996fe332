package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func randomData(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	r.Read(data)
	return data
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		codec    CodecID
		filters  []FilterSpec
		typesize int
	}{
		{"blosclz-noshuffle", BloscLZ, nil, 8},
		{"blosclz-shuffle", BloscLZ, []FilterSpec{{ID: Shuffle}}, 8},
		{"lz4-shuffle", LZ4, []FilterSpec{{ID: Shuffle}}, 4},
		{"lz4hc-delta", LZ4HC, []FilterSpec{{ID: Delta}}, 4},
		{"zlib-shuffle", Zlib, []FilterSpec{{ID: Shuffle}}, 8},
		{"zstd-bitshuffle", Zstd, []FilterSpec{{ID: Bitshuffle}}, 8},
		{"zstd-bytedelta", Zstd, []FilterSpec{{ID: ByteDelta}}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := randomData(4096, 42)
			cparams := NewCParams(WithCodec(tc.codec), WithFilters(tc.filters...), WithTypesize(tc.typesize))
			chunk, err := Compress(data, cparams, NotSpecial)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := Decompress(chunk, cparams, NewDParams())
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch for %s", tc.name)
			}
		})
	}
}

func TestSpecialChunksSkipCompression(t *testing.T) {
	cparams := NewCParams()
	data := make([]byte, 1024)

	chunk, err := Compress(data, cparams, Zero)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(chunk) != HeaderSize {
		t.Fatalf("special chunk should be header-only, got %d bytes", len(chunk))
	}

	h, err := GetLazychunk(chunk)
	if err != nil {
		t.Fatalf("GetLazychunk: %v", err)
	}
	if h.SpecialTag() != Zero {
		t.Fatalf("tag = %v, want Zero", h.SpecialTag())
	}

	out, err := Decompress(chunk, cparams, NewDParams())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestNaNSpecialChunk(t *testing.T) {
	cparams := NewCParams(WithTypesize(8))
	data := make([]byte, 64)
	chunk, err := Compress(data, cparams, NaN)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	out, err := Decompress(chunk, cparams, NewDParams())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for off := 0; off+8 <= len(out); off += 8 {
		if out[off+7] != 0x7f || out[off+6] != 0xf8 {
			t.Fatalf("offset %d is not NaN bit pattern: % x", off, out[off:off+8])
		}
	}
}

func TestShuffleRoundTripOddLength(t *testing.T) {
	f := shuffleFilter{}
	data := randomData(37, 7) // not a multiple of itemsize 8
	enc := f.Encode(data, 8)
	dec := f.Decode(enc, 8)
	if !bytes.Equal(dec, data) {
		t.Fatal("shuffle must pass through data that doesn't divide evenly by itemsize")
	}

	data2 := randomData(64, 9)
	enc2 := f.Encode(data2, 8)
	dec2 := f.Decode(enc2, 8)
	if !bytes.Equal(dec2, data2) {
		t.Fatal("shuffle round trip mismatch")
	}
}

func TestBitshuffleRoundTrip(t *testing.T) {
	f := bitshuffleFilter{}
	data := randomData(128, 11)
	enc := f.Encode(data, 8)
	dec := f.Decode(enc, 8)
	if !bytes.Equal(dec, data) {
		t.Fatal("bitshuffle round trip mismatch")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	f := deltaFilter{}
	data := randomData(80, 13)
	enc := f.Encode(data, 4)
	dec := f.Decode(enc, 4)
	if !bytes.Equal(dec, data) {
		t.Fatal("delta round trip mismatch")
	}
}

func TestReadHeaderRejectsShortBuffer(t *testing.T) {
	_, ok := ReadHeader(make([]byte, 10))
	if ok {
		t.Fatal("expected ReadHeader to reject a buffer shorter than HeaderSize")
	}
}
