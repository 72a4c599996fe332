// Package partition computes chunk and block geometries for ndchunk arrays
// and tests whether a given geometry is aligned or behaved with respect to
// a shape.
package partition

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CacheSizes holds the per-level cache sizes (in bytes) the blocksize and
// chunksize heuristics are tuned against.
type CacheSizes struct {
	L1Data uint64
	L2     uint64
	L3     uint64
}

// Fallback cache sizes used when cpuid cannot report a level (common on
// virtualized or sandboxed CPUs).
const (
	fallbackL1 = 32 * 1024
	fallbackL2 = 256 * 1024
	fallbackL3 = 8 * 1024 * 1024
)

// DetectCacheSizes probes the host CPU via cpuid, falling back to
// conservative constants for any level the CPU doesn't report.
func DetectCacheSizes() CacheSizes {
	cs := CacheSizes{
		L1Data: uint64(cpuid.CPU.Cache.L1D),
		L2:     uint64(cpuid.CPU.Cache.L2),
		L3:     uint64(cpuid.CPU.Cache.L3),
	}
	if cs.L1Data <= 0 {
		cs.L1Data = fallbackL1
	}
	if cs.L2 <= 0 {
		cs.L2 = fallbackL2
	}
	if cs.L3 <= 0 {
		cs.L3 = fallbackL3
	}
	return cs
}

// IsAppleSiliconLike reports whether the running CPU should use the
// L1-based blocksize clamp instead of the x86_64 L2-based one.
func IsAppleSiliconLike() bool {
	return runtime.GOARCH == "arm64"
}

const (
	maxL3Hint  = 64 * 1024 * 1024       // L3_max from spec step 4
	minChunk   = 1 * 1024 * 1024        // floor at 1 MiB
	maxChunk   = (1 << 31) - (16 << 20) // cap at 2^31 - OVERHEAD
	synthSize  = 8 * 1024 * 1024        // synthetic buffer used to hint blocksize
	cacheSplit = 4                      // divide by 4: 3 operands + 1 result co-resident
)

// Geometry is a validated (chunks, blocks) pair for some shape.
type Geometry struct {
	Chunks []int
	Blocks []int
}

// ComputeChunksBlocks picks (chunks, blocks) for shape given an itemsize and
// compression level, honoring any user-supplied values. cache is typically
// the result of DetectCacheSizes.
func ComputeChunksBlocks(shape, userChunks, userBlocks []int, itemsize, clevel int, cache CacheSizes) (Geometry, error) {
	rank := len(shape)

	for _, s := range shape {
		if s == 0 {
			return onesGeometry(rank), nil
		}
	}

	if userChunks != nil || userBlocks != nil {
		if userChunks == nil {
			return Geometry{}, fmt.Errorf("partition: blocks given without chunks")
		}
		if len(userChunks) != rank || (userBlocks != nil && len(userBlocks) != rank) {
			return Geometry{}, fmt.Errorf("partition: rank mismatch: shape has %d dims", rank)
		}
		if userBlocks == nil {
			userBlocks = ComputePartition(int(hintBlocksize(cache, clevel))/itemsize, intersectShape(shape, userChunks), nil)
		}
		for i := 0; i < rank; i++ {
			if userChunks[i] <= 0 || userBlocks[i] <= 0 {
				return Geometry{}, fmt.Errorf("partition: chunks/blocks must be positive, got chunks[%d]=%d blocks[%d]=%d", i, userChunks[i], i, userBlocks[i])
			}
			if userBlocks[i] > userChunks[i] {
				return Geometry{}, fmt.Errorf("partition: blocks[%d]=%d exceeds chunks[%d]=%d", i, userBlocks[i], i, userChunks[i])
			}
			if shape[i] == 1 && (userChunks[i] > 1 || userBlocks[i] > 1) {
				return Geometry{}, fmt.Errorf("partition: chunks/blocks[%d] exceed shape[%d]=1", i, i)
			}
		}
		return Geometry{Chunks: append([]int(nil), userChunks...), Blocks: append([]int(nil), userBlocks...)}, nil
	}

	blocksize := hintBlocksize(cache, clevel)
	chunksize := deriveChunksize(blocksize, cache, clevel)

	blocks := ComputePartition(int(blocksize)/itemsize, intersectShape(shape, shape), nil)
	chunks := ComputePartition(int(chunksize)/itemsize, shape, blocks)

	return Geometry{Chunks: chunks, Blocks: blocks}, nil
}

func onesGeometry(rank int) Geometry {
	ones := make([]int, rank)
	for i := range ones {
		ones[i] = 1
	}
	return Geometry{Chunks: ones, Blocks: append([]int(nil), ones...)}
}

// hintBlocksize approximates the blocksize a real codec kernel would choose.
// A full engine compresses a synthetic zero buffer and reads the codec's
// chosen blocksize out of the chunk header; that hinting mechanism lives
// inside the codec kernel itself, so this is approximated directly from
// cache geometry, which is the information the real hint is itself clamped
// against.
func hintBlocksize(cache CacheSizes, clevel int) uint64 {
	hint := uint64(synthSize / 32) // a plausible unclamped hint, same order as a real blosc blocksize
	if clevel == 0 {
		if IsAppleSiliconLike() {
			return cache.L1Data / 2
		}
		return cache.L2 / 2
	}
	if IsAppleSiliconLike() {
		if max := cache.L1Data / 2; hint > max {
			hint = max
		}
	} else {
		if max := cache.L2 / 2; hint > max {
			hint = max
		}
	}
	if hint == 0 {
		hint = minChunk / 8
	}
	return hint
}

func deriveChunksize(blocksize uint64, cache CacheSizes, clevel int) uint64 {
	chunksize := blocksize
	if blocksize*32 <= maxL3Hint {
		chunksize = blocksize * 32
	}
	if cache.L3 > cache.L2 && cache.L3 > chunksize {
		chunksize = cache.L3
	}
	if chunksize < cache.L2 {
		chunksize = cache.L2
	}
	chunksize /= cacheSplit
	if chunksize < minChunk {
		chunksize = minChunk
	}
	if chunksize > maxChunk {
		chunksize = maxChunk
	}
	return chunksize
}

func intersectShape(shape, chunks []int) []int {
	out := make([]int, len(shape))
	for i := range shape {
		out[i] = min(shape[i], chunks[i])
	}
	return out
}

// ComputePartition greedily assigns axis sizes right-to-left: each axis gets
// the largest divisor of its length that fits in the remaining item budget
// (raised to minpart where given, capped at the axis length); a divisor
// above the budget is never chosen, however close it is. This favors filling trailing (contiguous, row-major) axes first.
func ComputePartition(nitems int, maxshape []int, minpart []int) []int {
	rank := len(maxshape)
	part := make([]int, rank)
	budget := nitems
	if budget < 1 {
		budget = 1
	}

	for i := rank - 1; i >= 0; i-- {
		axisLen := maxshape[i]
		if axisLen <= 0 {
			axisLen = 1
		}
		min := 1
		if minpart != nil && i < len(minpart) && minpart[i] > 0 {
			min = minpart[i]
		}

		size := largestDivisorAtMost(axisLen, budget)
		if size < min {
			size = min
		}
		if size > axisLen {
			size = axisLen
		}
		part[i] = size

		if size > 0 {
			budget /= size
			if budget < 1 {
				budget = 1
			}
		}
	}
	return part
}

// largestDivisorAtMost returns the largest divisor of n not exceeding budget
// (n itself when budget >= n). It does not snap up to a divisor above
// budget, even one within a factor of two of it.
func largestDivisorAtMost(n, budget int) int {
	if budget >= n {
		return n
	}
	if budget <= 0 {
		return 1
	}
	best := 1
	for d := 1; d <= n && d <= budget*2; d++ {
		if n%d != 0 {
			continue
		}
		if d <= budget {
			best = d
		} else if d <= budget*2 && best < budget {
			// d is an exact divisor within 2x of budget but over budget;
			// the search stops here and keeps best.
			break
		}
	}
	return best
}

// AreAligned reports whether every chunk has an integer number of whole
// blocks along axes that aren't the last (possibly short) chunk.
func AreAligned(shape, chunks, blocks []int) bool {
	for i := range shape {
		if chunks[i]%blocks[i] != 0 {
			return false
		}
	}
	return true
}

// AreBehaved reports aligned geometry with no padding: the shape is an exact
// multiple of chunks along every axis.
func AreBehaved(shape, chunks, blocks []int) bool {
	if !AreAligned(shape, chunks, blocks) {
		return false
	}
	for i := range shape {
		if shape[i]%chunks[i] != 0 {
			return false
		}
	}
	return true
}
