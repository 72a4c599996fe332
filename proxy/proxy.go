// Package proxy implements Proxy: an NDArray whose chunks are fetched
// on demand from a remote or otherwise slow Source, materializing each
// chunk into a local mirror exactly once.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkellerman/ndchunk/internal/codec"
	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/ndarray"
)

const proxySourceVLMetaKey = "proxy-source"

// fetchesTotal counts chunk fetches issued to a Source, labeled by the
// source's Describe() string, so an operator can tell a misbehaving remote
// source apart from a quiet one across many Proxy instances in one process.
var fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ndchunk",
	Subsystem: "proxy",
	Name:      "fetches_total",
	Help:      "Number of chunk fetches issued to a proxy Source.",
}, []string{"source"})

func init() {
	prometheus.MustRegister(fetchesTotal)
}

// Source fetches one chunk's raw (decompressed, row-major) bytes on demand.
// Implementations should be safe for concurrent use; Proxy may call
// FetchChunk for different chunk indices concurrently.
type Source interface {
	FetchChunk(ctx context.Context, nchunk int) ([]byte, error)
	// Describe returns a short, human-readable identifier for this source
	// (e.g. "s3://bucket/key"), stored in the proxy-source vlmeta entry.
	Describe() string
}

// Proxy wraps an NDArray whose chunks start Uninit and are populated lazily
// from Source on first access.
type Proxy struct {
	mu      sync.Mutex
	local   *ndarray.NDArray
	source  Source
	fetched map[int]bool
}

// New creates a Proxy over a freshly allocated local mirror array of shape
// and dtype, all chunks starting Uninit, backed by source.
func New(shape []int, dt dtype.Dtype, source Source, opts ...ndarray.Option) (*Proxy, error) {
	local, err := ndarray.New(shape, dt, opts...)
	if err != nil {
		return nil, fmt.Errorf("proxy: allocating local mirror: %w", err)
	}
	n := local.NChunks()
	for i := 0; i < n; i++ {
		extent := local.ChunkExtent(local.ChunkCoords(i))
		nbytes := 1
		for _, e := range extent {
			nbytes *= e
		}
		nbytes *= dt.Itemsize
		if err := local.SChunk().ReplaceChunkTagged(i, nbytes, codec.Uninit); err != nil {
			return nil, fmt.Errorf("proxy: marking chunk %d uninit: %w", i, err)
		}
	}
	local.SChunk().SetVLMeta(proxySourceVLMetaKey, []byte(source.Describe()))
	return &Proxy{local: local, source: source, fetched: make(map[int]bool)}, nil
}

// Local returns the backing NDArray, for callers that want direct read
// access after chunks have been fetched.
func (p *Proxy) Local() *ndarray.NDArray { return p.local }

// IsFetched reports whether chunk nchunk has already been materialized
// locally.
func (p *Proxy) IsFetched(nchunk int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetched[nchunk]
}

// Fetch returns chunk nchunk's data, pulling it from Source and writing it
// into the local mirror on first access; subsequent calls return the
// locally cached copy without touching Source again.
func (p *Proxy) Fetch(ctx context.Context, nchunk int) ([]byte, error) {
	p.mu.Lock()
	if p.fetched[nchunk] {
		p.mu.Unlock()
		return p.local.GetChunk(nchunk)
	}
	p.mu.Unlock()

	fetchesTotal.WithLabelValues(p.source.Describe()).Inc()
	data, err := p.source.FetchChunk(ctx, nchunk)
	if err != nil {
		return nil, fmt.Errorf("proxy: fetching chunk %d: %w", nchunk, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetched[nchunk] {
		return p.local.GetChunk(nchunk)
	}
	if err := p.local.UpdateChunk(nchunk, data); err != nil {
		return nil, fmt.Errorf("proxy: storing fetched chunk %d: %w", nchunk, err)
	}
	p.fetched[nchunk] = true
	return data, nil
}

// AFetch fetches chunk nchunk asynchronously, delivering the result (or an
// error) on the returned channel exactly once.
func (p *Proxy) AFetch(ctx context.Context, nchunk int) <-chan FetchResult {
	ch := make(chan FetchResult, 1)
	go func() {
		data, err := p.Fetch(ctx, nchunk)
		ch <- FetchResult{Data: data, Err: err}
		close(ch)
	}()
	return ch
}

// FetchResult is the payload delivered on AFetch's channel.
type FetchResult struct {
	Data []byte
	Err  error
}

// FetchAll eagerly materializes every chunk, used when a caller wants to
// pull an entire remote array local before evaluating an expression over it.
func (p *Proxy) FetchAll(ctx context.Context) error {
	n := p.local.NChunks()
	for i := 0; i < n; i++ {
		if _, err := p.Fetch(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// FetchItem fetches only the chunks that intersect the item range
// [start, stop), materializing them locally if they aren't already, and
// returns the densely packed region exactly as NDArray.GetSlice would.
// Every chunk outside the requested range is left untouched (still Uninit
// if it was never fetched before), so repeated narrow slices only ever pull
// as much of the remote array as they actually read.
func (p *Proxy) FetchItem(ctx context.Context, start, stop []int) ([]byte, error) {
	n := p.local.NChunks()
	for i := 0; i < n; i++ {
		if !chunkIntersectsRegion(p.local, i, start, stop) {
			continue
		}
		if _, err := p.Fetch(ctx, i); err != nil {
			return nil, err
		}
	}
	return p.local.GetSlice(start, stop)
}

// chunkIntersectsRegion reports whether chunk nchunk's element range
// overlaps [start, stop) along every axis.
func chunkIntersectsRegion(arr *ndarray.NDArray, nchunk int, start, stop []int) bool {
	coords := arr.ChunkCoords(nchunk)
	cstart := arr.ChunkStart(coords)
	cext := arr.ChunkExtent(coords)
	for d := range cstart {
		lo := cstart[d]
		hi := cstart[d] + cext[d]
		if lo >= stop[d] || start[d] >= hi {
			return false
		}
	}
	return true
}
