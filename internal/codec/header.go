// Package codec implements the chunk wire format: a 32-byte header plus a
// filter pipeline and a pluggable byte-level compressor, consumed through
// Compress/Decompress. The codec kernels themselves (BloscLZ, LZ4, ZSTD...)
// are treated as external collaborators per the core spec; this package
// wires real third-party implementations behind that interface.
package codec

import "encoding/binary"

// SpecialTag classifies a chunk without requiring decompression.
type SpecialTag uint8

const (
	NotSpecial SpecialTag = 0
	Zero       SpecialTag = 1
	NaN        SpecialTag = 2
	Value      SpecialTag = 3
	Uninit     SpecialTag = 4
)

func (t SpecialTag) String() string {
	switch t {
	case NotSpecial:
		return "not-special"
	case Zero:
		return "zero"
	case NaN:
		return "nan"
	case Value:
		return "value"
	case Uninit:
		return "uninit"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed leading header size of every chunk.
const HeaderSize = 32

// Header is the 32-byte leading chunk header. Only the fields the core
// actually needs are named; the rest of the 32 bytes are reserved/padding
// and treated as read-only once written.
type Header [HeaderSize]byte

// specialTagByte is where the 3-bit special-value tag lives: byte 31,
// bits 4-6, mask 0x70 — this is the one part of the wire format spec.md
// pins exactly.
const specialTagByte = 31
const specialTagMask = 0x70
const specialTagShift = 4

func (h Header) SpecialTag() SpecialTag {
	return SpecialTag((h[specialTagByte] & specialTagMask) >> specialTagShift)
}

func (h *Header) SetSpecialTag(tag SpecialTag) {
	h[specialTagByte] = (h[specialTagByte] &^ specialTagMask) | (byte(tag) << specialTagShift)
}

// Remaining header fields, laid out the way a blosc-family header does:
// typesize, nominal (uncompressed) size, blocksize, and compressed size.
const (
	offTypesize  = 3
	offNbytes    = 4
	offBlocksize = 8
	offCbytes    = 12
)

func (h Header) Typesize() uint8    { return h[offTypesize] }
func (h Header) Nbytes() uint32     { return binary.LittleEndian.Uint32(h[offNbytes:]) }
func (h Header) Blocksize() uint32  { return binary.LittleEndian.Uint32(h[offBlocksize:]) }
func (h Header) Cbytes() uint32     { return binary.LittleEndian.Uint32(h[offCbytes:]) }

func (h *Header) SetTypesize(v uint8)   { h[offTypesize] = v }
func (h *Header) SetNbytes(v uint32)    { binary.LittleEndian.PutUint32(h[offNbytes:], v) }
func (h *Header) SetBlocksize(v uint32) { binary.LittleEndian.PutUint32(h[offBlocksize:], v) }
func (h *Header) SetCbytes(v uint32)    { binary.LittleEndian.PutUint32(h[offCbytes:], v) }

// ReadHeader parses the leading HeaderSize bytes of a chunk. It never reads
// past the header, so it is safe to call on a lazychunk fetch that only
// retrieved the first 32 bytes.
func ReadHeader(chunk []byte) (Header, bool) {
	var h Header
	if len(chunk) < HeaderSize {
		return h, false
	}
	copy(h[:], chunk[:HeaderSize])
	return h, true
}
