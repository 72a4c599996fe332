package schunk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/dkellerman/ndchunk/internal/codec"
)

func newTestSChunk(t *testing.T) *SChunk {
	t.Helper()
	s, err := New(8, 4096, codec.NewCParams(), codec.NewDParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAppendAndGetChunkRoundTrip(t *testing.T) {
	s := newTestSChunk(t)
	r := rand.New(rand.NewSource(1))
	data := make([]byte, 4096)
	r.Read(data)

	idx, err := s.AppendChunk(data)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	if s.NChunks() != 1 {
		t.Fatalf("NChunks = %d, want 1", s.NChunks())
	}

	got, err := s.GetChunk(0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestZeroChunkNeverStoresPayload(t *testing.T) {
	s := newTestSChunk(t)
	data := make([]byte, 4096)

	idx, err := s.AppendChunk(data)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	h, err := s.GetLazychunk(idx)
	if err != nil {
		t.Fatalf("GetLazychunk: %v", err)
	}
	if h.SpecialTag() != codec.Zero {
		t.Fatalf("tag = %v, want Zero", h.SpecialTag())
	}

	got, err := s.GetChunk(idx)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestUpdateChunkInvalidatesCache(t *testing.T) {
	s := newTestSChunk(t)
	orig := bytes.Repeat([]byte{1}, 4096)
	idx, err := s.AppendChunk(orig)
	if err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if _, err := s.GetChunk(idx); err != nil {
		t.Fatalf("GetChunk: %v", err)
	}

	updated := bytes.Repeat([]byte{2}, 4096)
	if err := s.UpdateChunk(idx, updated); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}
	got, err := s.GetChunk(idx)
	if err != nil {
		t.Fatalf("GetChunk after update: %v", err)
	}
	if !bytes.Equal(got, updated) {
		t.Fatal("GetChunk returned stale cached data after UpdateChunk")
	}
}

func TestOutOfRangeChunkAccess(t *testing.T) {
	s := newTestSChunk(t)
	if _, err := s.GetChunk(0); err == nil {
		t.Fatal("expected error for out-of-range chunk access")
	}
}

func TestVLMeta(t *testing.T) {
	s := newTestSChunk(t)
	s.SetVLMeta("expr", []byte(`{"LazyArray":0}`))
	v, ok := s.VLMeta("expr")
	if !ok || string(v) != `{"LazyArray":0}` {
		t.Fatalf("VLMeta roundtrip failed: %v %v", v, ok)
	}
	if _, ok := s.VLMeta("missing"); ok {
		t.Fatal("expected missing key to return ok=false")
	}
}
