package proxy

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/ndarray"
)

type fakeSource struct {
	calls int32
	pages map[int][]byte
}

func (f *fakeSource) Describe() string { return "fake://test" }

func (f *fakeSource) FetchChunk(ctx context.Context, nchunk int) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.pages[nchunk], nil
}

func TestProxyFetchMaterializesChunkOnce(t *testing.T) {
	src := &fakeSource{pages: map[int][]byte{
		0: {1, 0, 0, 0, 2, 0, 0, 0},
	}}
	p, err := New([]int{2}, dtype.Int32, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.IsFetched(0) {
		t.Fatal("chunk should not be fetched yet")
	}

	data, err := p.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != string(src.pages[0]) {
		t.Fatalf("got %v want %v", data, src.pages[0])
	}
	if !p.IsFetched(0) {
		t.Fatal("chunk should be marked fetched")
	}

	if _, err := p.Fetch(context.Background(), 0); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Fatalf("source called %d times, want 1", got)
	}
}

func TestProxyAFetchDeliversResult(t *testing.T) {
	src := &fakeSource{pages: map[int][]byte{0: {9, 9, 9, 9}}}
	p, err := New([]int{1}, dtype.Int32, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := <-p.AFetch(context.Background(), 0)
	if res.Err != nil {
		t.Fatalf("AFetch: %v", res.Err)
	}
	if string(res.Data) != string(src.pages[0]) {
		t.Fatalf("got %v want %v", res.Data, src.pages[0])
	}
}

func TestProxyFetchItemOnlyMaterializesIntersectingChunks(t *testing.T) {
	shape := []int{100, 300}
	chunks := []int{10, 10}
	src := &fakeSource{pages: map[int][]byte{}}
	p, err := New(shape, dtype.Int32, src, ndarray.WithChunks(chunks))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := p.Local().NChunks()
	for i := 0; i < n; i++ {
		extent := p.Local().ChunkExtent(p.Local().ChunkCoords(i))
		nbytes := extent[0] * extent[1] * dtype.Int32.Itemsize
		src.pages[i] = make([]byte, nbytes)
	}

	if _, err := p.FetchItem(context.Background(), []int{0, 0}, []int{5, 60}); err != nil {
		t.Fatalf("FetchItem: %v", err)
	}
	fetchedAfterFirst := make(map[int]bool)
	for i := 0; i < n; i++ {
		if p.IsFetched(i) {
			fetchedAfterFirst[i] = true
		}
	}
	if len(fetchedAfterFirst) == 0 || len(fetchedAfterFirst) == n {
		t.Fatalf("expected a strict subset of chunks fetched, got %d of %d", len(fetchedAfterFirst), n)
	}

	if _, err := p.FetchItem(context.Background(), []int{37, 19}, []int{53, 233}); err != nil {
		t.Fatalf("FetchItem: %v", err)
	}
	for i := 0; i < n; i++ {
		coords := p.Local().ChunkCoords(i)
		cstart := p.Local().ChunkStart(coords)
		cext := p.Local().ChunkExtent(coords)
		intersectsEither := rangesOverlap(cstart, cext, []int{0, 0}, []int{5, 60}) ||
			rangesOverlap(cstart, cext, []int{37, 19}, []int{53, 233})
		if p.IsFetched(i) != intersectsEither {
			t.Fatalf("chunk %d fetched=%v, want %v (coords %v)", i, p.IsFetched(i), intersectsEither, coords)
		}
	}
}

func rangesOverlap(cstart, cext, start, stop []int) bool {
	for d := range cstart {
		lo, hi := cstart[d], cstart[d]+cext[d]
		if lo >= stop[d] || start[d] >= hi {
			return false
		}
	}
	return true
}

func TestProxyFetchAllMaterializesEveryChunk(t *testing.T) {
	src := &fakeSource{pages: map[int][]byte{
		0: {1, 0, 0, 0},
		1: {2, 0, 0, 0},
	}}
	p, err := New([]int{2}, dtype.Int32, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.FetchAll(context.Background()); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for i := 0; i < p.Local().NChunks(); i++ {
		if !p.IsFetched(i) {
			t.Fatalf("chunk %d not fetched", i)
		}
	}
}
