package partition

import "testing"

func TestComputeChunksBlocksZeroShape(t *testing.T) {
	cache := CacheSizes{L1Data: 32 << 10, L2: 256 << 10, L3: 8 << 20}
	g, err := ComputeChunksBlocks([]int{0, 5}, nil, nil, 8, 5, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range g.Chunks {
		if c != 1 || g.Blocks[i] != 1 {
			t.Fatalf("zero-shape geometry = %+v, want all-ones", g)
		}
	}
}

func TestComputeChunksBlocksUserSupplied(t *testing.T) {
	cache := CacheSizes{L1Data: 32 << 10, L2: 256 << 10, L3: 8 << 20}
	g, err := ComputeChunksBlocks([]int{100, 100}, []int{10, 10}, []int{5, 5}, 8, 5, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Chunks[0] != 10 || g.Blocks[0] != 5 {
		t.Fatalf("got %+v", g)
	}
}

func TestComputeChunksBlocksRejectsBlocksExceedingChunks(t *testing.T) {
	cache := CacheSizes{L1Data: 32 << 10, L2: 256 << 10, L3: 8 << 20}
	_, err := ComputeChunksBlocks([]int{100}, []int{5}, []int{10}, 8, 5, cache)
	if err == nil {
		t.Fatal("expected error when blocks > chunks")
	}
}

func TestComputeChunksBlocksRejectsOversizeOnUnitAxis(t *testing.T) {
	cache := CacheSizes{L1Data: 32 << 10, L2: 256 << 10, L3: 8 << 20}
	_, err := ComputeChunksBlocks([]int{1, 100}, []int{2, 10}, []int{2, 5}, 8, 5, cache)
	if err == nil {
		t.Fatal("expected error when chunks exceed a unit shape axis")
	}
}

func TestComputePartitionFillsTrailingAxesFirst(t *testing.T) {
	part := ComputePartition(100, []int{10, 10, 10}, nil)
	if len(part) != 3 {
		t.Fatalf("expected rank 3, got %d", len(part))
	}
	for i, p := range part {
		if p < 1 || p > 10 {
			t.Fatalf("part[%d] = %d out of [1,10]", i, p)
		}
	}
	product := 1
	for _, p := range part {
		product *= p
	}
	if product > 100 {
		t.Fatalf("partition product %d exceeds nitems budget 100", product)
	}
}

func TestComputePartitionHonorsMinpart(t *testing.T) {
	part := ComputePartition(4, []int{20}, []int{8})
	if part[0] != 8 {
		t.Fatalf("expected minpart floor of 8, got %d", part[0])
	}
}

func TestMonotonicity(t *testing.T) {
	cache := CacheSizes{L1Data: 32 << 10, L2: 256 << 10, L3: 8 << 20}
	g, err := ComputeChunksBlocks([]int{3000, 4000}, nil, nil, 8, 5, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shape := []int{3000, 4000}
	for i := range shape {
		if g.Blocks[i] > g.Chunks[i] {
			t.Fatalf("blocks[%d]=%d exceeds chunks[%d]=%d", i, g.Blocks[i], i, g.Chunks[i])
		}
		if g.Chunks[i] > shape[i] {
			t.Fatalf("chunks[%d]=%d exceeds shape[%d]=%d", i, g.Chunks[i], i, shape[i])
		}
	}
}

func TestAlignedBehaved(t *testing.T) {
	shape := []int{100, 100}
	chunks := []int{10, 10}
	blocks := []int{5, 5}
	if !AreAligned(shape, chunks, blocks) {
		t.Fatal("expected aligned")
	}
	if !AreBehaved(shape, chunks, blocks) {
		t.Fatal("expected behaved")
	}

	shape2 := []int{13, 13}
	if !AreAligned(shape2, chunks, blocks) {
		t.Fatal("alignment is independent of padding")
	}
	if AreBehaved(shape2, chunks, blocks) {
		t.Fatal("expected not behaved due to padding")
	}
}
