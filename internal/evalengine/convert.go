package evalengine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dkellerman/ndchunk/internal/dtype"
)

// bytesToFloat64s decodes a raw chunk buffer into a float64 slice according
// to dt, the common internal representation the kernel evaluates over.
// Every numeric dtype funnels through float64 for the evaluator's elementwise
// arithmetic; this is the "everything becomes a double for the duration of
// one kernel call" simplification typical of small embedded expression
// evaluators (see DESIGN.md).
func bytesToFloat64s(data []byte, dt dtype.Dtype) ([]float64, error) {
	if dt.Itemsize <= 0 || len(data)%dt.Itemsize != 0 {
		return nil, fmt.Errorf("evalengine: buffer length %d not a multiple of itemsize %d", len(data), dt.Itemsize)
	}
	n := len(data) / dt.Itemsize
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		off := i * dt.Itemsize
		word := data[off : off+dt.Itemsize]
		v, err := decodeElement(word, dt)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeElement(word []byte, dt dtype.Dtype) (float64, error) {
	switch dt.Kind {
	case dtype.KindFloat:
		switch dt.Itemsize {
		case 4:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(word))), nil
		case 8:
			return math.Float64frombits(binary.LittleEndian.Uint64(word)), nil
		}
	case dtype.KindInt:
		switch dt.Itemsize {
		case 1:
			return float64(int8(word[0])), nil
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(word))), nil
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(word))), nil
		case 8:
			return float64(int64(binary.LittleEndian.Uint64(word))), nil
		}
	case dtype.KindUint:
		switch dt.Itemsize {
		case 1:
			return float64(word[0]), nil
		case 2:
			return float64(binary.LittleEndian.Uint16(word)), nil
		case 4:
			return float64(binary.LittleEndian.Uint32(word)), nil
		case 8:
			return float64(binary.LittleEndian.Uint64(word)), nil
		}
	case dtype.KindBool:
		return boolToFloat(word[0] != 0), nil
	}
	return 0, fmt.Errorf("evalengine: unsupported dtype %s for evaluation", dt.String())
}

// float64sToBytes encodes vals back into dt's wire representation.
func float64sToBytes(vals []float64, dt dtype.Dtype) ([]byte, error) {
	out := make([]byte, len(vals)*dt.Itemsize)
	for i, v := range vals {
		off := i * dt.Itemsize
		if err := encodeElement(out[off:off+dt.Itemsize], v, dt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeElement(word []byte, v float64, dt dtype.Dtype) error {
	switch dt.Kind {
	case dtype.KindFloat:
		switch dt.Itemsize {
		case 4:
			binary.LittleEndian.PutUint32(word, math.Float32bits(float32(v)))
			return nil
		case 8:
			binary.LittleEndian.PutUint64(word, math.Float64bits(v))
			return nil
		}
	case dtype.KindInt:
		switch dt.Itemsize {
		case 1:
			word[0] = byte(int8(v))
			return nil
		case 2:
			binary.LittleEndian.PutUint16(word, uint16(int16(v)))
			return nil
		case 4:
			binary.LittleEndian.PutUint32(word, uint32(int32(v)))
			return nil
		case 8:
			binary.LittleEndian.PutUint64(word, uint64(int64(v)))
			return nil
		}
	case dtype.KindUint:
		switch dt.Itemsize {
		case 1:
			word[0] = byte(v)
			return nil
		case 2:
			binary.LittleEndian.PutUint16(word, uint16(v))
			return nil
		case 4:
			binary.LittleEndian.PutUint32(word, uint32(v))
			return nil
		case 8:
			binary.LittleEndian.PutUint64(word, uint64(v))
			return nil
		}
	case dtype.KindBool:
		if v != 0 {
			word[0] = 1
		} else {
			word[0] = 0
		}
		return nil
	}
	return fmt.Errorf("evalengine: unsupported dtype %s for evaluation", dt.String())
}
