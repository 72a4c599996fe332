package evalengine

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"
)

// prefetchDepth is the maximum number of chunk fetches PrefetchChunks runs
// at the same time.
const prefetchDepth = 2

// lowMemDepth is used instead when BLOSC_LOW_MEM is set, running one fetch
// at a time.
const lowMemDepth = 1

// prefetchDepthFor returns the configured pipeline depth, honoring the
// BLOSC_LOW_MEM environment switch the same way the core engine's Python
// counterpart does.
func prefetchDepthFor() int {
	if os.Getenv("BLOSC_LOW_MEM") != "" {
		return lowMemDepth
	}
	return prefetchDepth
}

// ChunkFetcher produces the decoded bytes for one chunk index; GetChunk on
// ndarray.NDArray satisfies this signature.
type ChunkFetcher func(nchunk int) ([]byte, error)

// PrefetchChunks runs fetch for every index in [0, n), at most depth fetches
// at a time, and passes the results to yield in index order. The depth
// bound limits concurrent fetches only: finished results wait in per-index
// slots until yield takes them, fetches do not wait for the consumer, and
// every fetch has started before the first call to yield. Errors from any
// fetch stop the pipeline and are returned to the caller; yield is always
// called from a single goroutine (the caller's), so it needs no locking of
// its own.
func PrefetchChunks(ctx context.Context, n int, fetch ChunkFetcher, yield func(nchunk int, data []byte) error) error {
	depth := prefetchDepthFor()
	if depth > n {
		depth = n
	}
	if depth <= 0 {
		return nil
	}

	type result struct {
		data []byte
		err  error
	}
	slots := make([]chan result, n)
	for i := range slots {
		slots[i] = make(chan result, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, depth)

	for i := 0; i < n; i++ {
		i := i
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			select {
			case <-gctx.Done():
				slots[i] <- result{err: gctx.Err()}
				return gctx.Err()
			default:
			}
			data, err := fetch(i)
			slots[i] <- result{data: data, err: err}
			return err
		})
	}

	go func() {
		_ = g.Wait()
	}()

	for i := 0; i < n; i++ {
		r := <-slots[i]
		if r.err != nil {
			return r.err
		}
		if err := yield(i, r.data); err != nil {
			return err
		}
	}
	return nil
}
