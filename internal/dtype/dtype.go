// Package dtype describes the fixed-width scalar types ndchunk arrays hold.
//
// A Dtype is treated as an opaque itemsize tag everywhere except the few
// places the core genuinely needs to know more: bool results of any/all
// reductions, integer min/max sentinels used to seed min/max reductions, and
// structured ("void"/record) field access used by the cache proxy.
package dtype

import (
	"fmt"
	"math"
)

// Kind classifies the scalar representation of a Dtype.
type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindFloat
	KindBool
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Field describes one member of a structured (record) Dtype.
type Field struct {
	Name   string
	Offset int
	Type   Dtype
}

// Dtype is a fixed-width numeric type descriptor.
//
// Itemsize must be in [1, MaxTypesize], the engine-wide limit validated as
// ResourceExhausted in the storage configuration path.
type Dtype struct {
	Kind     Kind
	Itemsize int
	Fields   []Field // only meaningful when Kind == KindStruct
}

// MaxTypesize is the hard engine-wide ceiling on Itemsize.
const MaxTypesize = 255

// Common scalar dtypes used throughout the package and its tests.
var (
	Int8    = Dtype{Kind: KindInt, Itemsize: 1}
	Int16   = Dtype{Kind: KindInt, Itemsize: 2}
	Int32   = Dtype{Kind: KindInt, Itemsize: 4}
	Int64   = Dtype{Kind: KindInt, Itemsize: 8}
	Uint8   = Dtype{Kind: KindUint, Itemsize: 1}
	Uint16  = Dtype{Kind: KindUint, Itemsize: 2}
	Uint32  = Dtype{Kind: KindUint, Itemsize: 4}
	Uint64  = Dtype{Kind: KindUint, Itemsize: 8}
	Float32 = Dtype{Kind: KindFloat, Itemsize: 4}
	Float64 = Dtype{Kind: KindFloat, Itemsize: 8}
	Bool    = Dtype{Kind: KindBool, Itemsize: 1}
)

// Validate checks the itemsize bound and, for structured dtypes, that field
// offsets are contiguous and sum to Itemsize.
func (d Dtype) Validate() error {
	if d.Itemsize < 1 || d.Itemsize > MaxTypesize {
		return fmt.Errorf("dtype: itemsize %d outside [1, %d]", d.Itemsize, MaxTypesize)
	}
	if d.Kind == KindStruct {
		want := 0
		for _, f := range d.Fields {
			if f.Offset != want {
				return fmt.Errorf("dtype: struct field %q at offset %d, expected %d", f.Name, f.Offset, want)
			}
			if err := f.Type.Validate(); err != nil {
				return fmt.Errorf("dtype: struct field %q: %w", f.Name, err)
			}
			want += f.Type.Itemsize
		}
		if want != d.Itemsize {
			return fmt.Errorf("dtype: struct fields total %d bytes, itemsize is %d", want, d.Itemsize)
		}
	}
	return nil
}

// Field looks up a structured dtype's member by name, for the cache proxy's
// field-access view.
func (d Dtype) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsNumeric reports whether arithmetic operators apply directly to d.
func (d Dtype) IsNumeric() bool {
	return d.Kind == KindInt || d.Kind == KindUint || d.Kind == KindFloat
}

func (d Dtype) String() string {
	if d.Kind == KindStruct {
		return fmt.Sprintf("struct<%d fields, %d bytes>", len(d.Fields), d.Itemsize)
	}
	return fmt.Sprintf("%s%d", d.Kind, d.Itemsize*8)
}

// SentinelMin returns the value used to seed a MAX reduction: the smallest
// value any element of d could hold, so the first real element always wins.
func SentinelMin(d Dtype) (float64, bool) {
	switch d.Kind {
	case KindInt:
		bits := uint(d.Itemsize * 8)
		return -math.Pow(2, float64(bits-1)), true
	case KindUint:
		return 0, true
	case KindFloat:
		return math.Inf(-1), true
	}
	return 0, false
}

// SentinelMax returns the value used to seed a MIN reduction.
func SentinelMax(d Dtype) (float64, bool) {
	switch d.Kind {
	case KindInt:
		bits := uint(d.Itemsize * 8)
		return math.Pow(2, float64(bits-1)) - 1, true
	case KindUint:
		bits := uint(d.Itemsize * 8)
		return math.Pow(2, float64(bits)) - 1, true
	case KindFloat:
		return math.Inf(1), true
	}
	return 0, false
}
