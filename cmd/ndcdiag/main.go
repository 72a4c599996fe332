// Command ndcdiag reports the chunk/block geometry ndchunk would choose for
// a given array shape and dtype, along with the detected CPU cache sizes
// driving that choice.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/internal/partition"
)

func main() {
	shapeFlag := flag.String("shape", "", "comma-separated array shape, e.g. 1000,1000")
	itemsizeFlag := flag.Int("itemsize", 8, "element size in bytes")
	clevelFlag := flag.Int("clevel", 5, "compression level (0-9), affects the blocksize heuristic")
	flag.Parse()

	if *shapeFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: ndcdiag -shape 1000,1000 [-itemsize 8] [-clevel 5]")
		os.Exit(1)
	}
	shape, err := parseShape(*shapeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ndcdiag: %v\n", err)
		os.Exit(1)
	}

	cache := partition.DetectCacheSizes()
	fmt.Printf("=== Cache geometry ===\n")
	fmt.Printf("L1 data: %d bytes\n", cache.L1Data)
	fmt.Printf("L2:      %d bytes\n", cache.L2)
	fmt.Printf("L3:      %d bytes\n", cache.L3)
	fmt.Println()

	geom, err := partition.ComputeChunksBlocks(shape, nil, nil, *itemsizeFlag, *clevelFlag, cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ndcdiag: computing geometry: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Geometry for shape %v, itemsize %d, clevel %d ===\n", shape, *itemsizeFlag, *clevelFlag)
	fmt.Printf("Chunks: %v\n", geom.Chunks)
	fmt.Printf("Blocks: %v\n", geom.Blocks)
	fmt.Printf("Aligned: %v\n", partition.AreAligned(shape, geom.Chunks, geom.Blocks))
	fmt.Printf("Behaved: %v\n", partition.AreBehaved(shape, geom.Chunks, geom.Blocks))

	dt := dtype.Dtype{Kind: dtype.KindFloat, Itemsize: *itemsizeFlag}
	if err := dt.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ndcdiag: dtype: %v\n", err)
		os.Exit(1)
	}
}

func parseShape(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid shape component %q: %w", p, err)
		}
		shape[i] = v
	}
	return shape, nil
}
