package codec

import "fmt"

// Pipeline is an ordered chain of filters applied before compression and
// reversed after decompression. It is bidirectional: this package owns both
// directions since ndchunk both writes and reads its own chunks.
type Pipeline struct {
	specs   []FilterSpec
	filters []Filter
}

// NewPipeline builds a Pipeline from an ordered filter spec list. Order
// matters: Apply runs specs left to right, Reverse runs them right to left.
func NewPipeline(specs []FilterSpec) (*Pipeline, error) {
	filters := make([]Filter, len(specs))
	for i, s := range specs {
		f, err := NewFilter(s)
		if err != nil {
			return nil, fmt.Errorf("codec: pipeline filter %d: %w", i, err)
		}
		filters[i] = f
	}
	return &Pipeline{specs: specs, filters: filters}, nil
}

// Apply runs the forward transform of every filter in pipeline order.
func (p *Pipeline) Apply(data []byte, itemsize int) []byte {
	for _, f := range p.filters {
		data = f.Encode(data, itemsize)
	}
	return data
}

// Reverse undoes Apply by running each filter's inverse in reverse order.
func (p *Pipeline) Reverse(data []byte, itemsize int) []byte {
	for i := len(p.filters) - 1; i >= 0; i-- {
		data = p.filters[i].Decode(data, itemsize)
	}
	return data
}

// Empty reports whether the pipeline has no filters (NOFILTER).
func (p *Pipeline) Empty() bool {
	return len(p.filters) == 0
}
