package ndchunk

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dkellerman/ndchunk/internal/alloc"
	internalbinary "github.com/dkellerman/ndchunk/internal/binary"
	"github.com/dkellerman/ndchunk/internal/codec"
	"github.com/dkellerman/ndchunk/internal/dtype"
	"github.com/dkellerman/ndchunk/ndarray"
	"github.com/dkellerman/ndchunk/schunk"
)

// footerMagic marks the trailing fixed-size footer SaveArray appends after
// the vlmeta section: the byte offset where the chunk offset table begins,
// letting a reader seek straight to one chunk without scanning the file.
const footerMagic = "NDCF"

// containerMagic identifies an ndchunk on-disk array file. Persistence here
// is a single flat container (shape + dtype + geometry + raw chunk bytes +
// vlmeta): there is no hierarchical file to navigate, just one array's
// worth of chunks, written with internal/binary's length-prefixed,
// little-endian field encoding.
const containerMagic = "NDC1"

func binaryConfig() internalbinary.Config {
	return internalbinary.Config{ByteOrder: binary.LittleEndian, OffsetSize: 8, LengthSize: 8}
}

// SaveArray writes arr's shape, dtype, chunk/block geometry, every raw
// (already compressed) chunk, and its vlmeta entries to path in the
// ndchunk container format. Persisting the _LazyArray marker for a
// LazyExpr is handled separately by SaveExpr; a LazyUDF has no save path
// at all, since its Go callback can't be serialized.
func SaveArray(path string, arr *ndarray.NDArray) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	w := internalbinary.NewWriter(internalbinary.NewSeekableWriterAt(f), binaryConfig())
	if err := w.WriteBytes([]byte(containerMagic)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	dt := arr.Dtype()
	if err := writeDtype(w, dt); err != nil {
		return err
	}
	if err := writeIntSlice(w, arr.Shape()); err != nil {
		return err
	}
	if err := writeIntSlice(w, arr.Chunks()); err != nil {
		return err
	}
	if err := writeIntSlice(w, arr.Blocks()); err != nil {
		return err
	}

	sc := arr.SChunk()
	if err := writeCParams(w, sc.CParams()); err != nil {
		return err
	}

	n := sc.NChunks()
	if err := w.WriteUint32(uint32(n)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	// al mirrors the writer's own position tracking chunk-by-chunk, turning
	// the wire-format layout into an explicit offset table: a random reader
	// (ChunkOffsets/LoadChunkAt) can then seek straight to one chunk instead
	// of scanning every preceding chunk's length prefix.
	al := alloc.New(uint64(w.Pos()))
	offsets := make([]uint64, n)
	for i := 0; i < n; i++ {
		wire, err := sc.RawChunk(i)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		offsets[i] = al.AllocTagged(uint64(4+len(wire)), fmt.Sprintf("chunk%d", i))
		if err := w.WriteUint32(uint32(len(wire))); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := w.WriteBytes(wire); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if err := al.Validate(); err != nil {
		return fmt.Errorf("%w: chunk offset bookkeeping: %v", ErrIO, err)
	}

	keys := sc.VLMetaKeys()
	if err := w.WriteUint32(uint32(len(keys))); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, k := range keys {
		v, _ := sc.VLMeta(k)
		if err := writeBytesField(w, []byte(k)); err != nil {
			return err
		}
		if err := writeBytesField(w, v); err != nil {
			return err
		}
	}

	tableStart := uint64(w.Pos())
	if err := w.WriteUint32(uint32(n)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, off := range offsets {
		if err := w.WriteUint64(off); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if err := w.WriteUint64(tableStart); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := w.WriteBytes([]byte(footerMagic)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// LoadArray reads a container file written by SaveArray back into an
// NDArray, restoring chunks verbatim (no recompression) via
// schunk.SChunk.AppendRawChunk.
func LoadArray(path string) (*ndarray.NDArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	r := internalbinary.NewReader(f, binaryConfig())
	magic, err := r.ReadBytes(len(containerMagic))
	if err != nil || string(magic) != containerMagic {
		return nil, fmt.Errorf("%w: %s is not an ndchunk container", ErrValidation, path)
	}

	dt, err := readDtype(r)
	if err != nil {
		return nil, err
	}
	shape, err := readIntSlice(r)
	if err != nil {
		return nil, err
	}
	chunks, err := readIntSlice(r)
	if err != nil {
		return nil, err
	}
	blocks, err := readIntSlice(r)
	if err != nil {
		return nil, err
	}

	cparams, err := readCParams(r)
	if err != nil {
		return nil, err
	}

	nchunks, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	chunksize := 1
	for _, c := range chunks {
		chunksize *= c
	}
	chunksize *= dt.Itemsize

	sc, err := schunk.New(dt.Itemsize, chunksize, cparams, codec.NewDParams())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	for i := uint32(0); i < nchunks; i++ {
		clen, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		wire, err := r.ReadBytes(int(clen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		sc.AppendRawChunk(wire)
	}

	nmeta, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	for i := uint32(0); i < nmeta; i++ {
		k, err := readBytesField(r)
		if err != nil {
			return nil, err
		}
		v, err := readBytesField(r)
		if err != nil {
			return nil, err
		}
		sc.SetVLMeta(string(k), v)
	}

	return ndarray.FromSChunk(shape, dt, chunks, blocks, sc), nil
}

// writeCParams persists enough of a CParams to reconstruct an identical
// compression pipeline on load: codec id, level, typesize, split mode, and
// the filter pipeline (id + meta per filter, in application order).
func writeCParams(w *internalbinary.Writer, cp codec.CParams) error {
	if err := w.WriteUint8(uint8(cp.Codec())); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := w.WriteUint8(uint8(cp.Clevel())); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := w.WriteUint32(uint32(cp.Typesize())); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	split := uint8(0)
	if cp.SplitMode() {
		split = 1
	}
	if err := w.WriteUint8(split); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	filters := cp.Filters()
	if err := w.WriteUint32(uint32(len(filters))); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, f := range filters {
		if err := w.WriteUint8(uint8(f.ID)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := w.WriteUint32(uint32(f.Meta)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	return nil
}

func readCParams(r *internalbinary.Reader) (codec.CParams, error) {
	id, err := r.ReadUint8()
	if err != nil {
		return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	clevel, err := r.ReadUint8()
	if err != nil {
		return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	typesize, err := r.ReadUint32()
	if err != nil {
		return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	split, err := r.ReadUint8()
	if err != nil {
		return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	nfilters, err := r.ReadUint32()
	if err != nil {
		return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	filters := make([]codec.FilterSpec, nfilters)
	for i := range filters {
		fid, err := r.ReadUint8()
		if err != nil {
			return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
		meta, err := r.ReadUint32()
		if err != nil {
			return codec.CParams{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
		filters[i] = codec.FilterSpec{ID: codec.FilterID(fid), Meta: int(meta)}
	}
	return codec.NewCParams(
		codec.WithCodec(codec.CodecID(id)),
		codec.WithClevel(int(clevel)),
		codec.WithTypesize(int(typesize)),
		codec.WithSplitMode(split != 0),
		codec.WithFilters(filters...),
	), nil
}

// ChunkOffsets reads the trailing footer of a container file written by
// SaveArray and returns the byte offset of every chunk's length-prefixed
// wire record, without reading any chunk payload.
func ChunkOffsets(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	const footerTrailerSize = 8 + len(footerMagic)
	if info.Size() < int64(footerTrailerSize) {
		return nil, fmt.Errorf("%w: %s is too short to contain a chunk offset table", ErrValidation, path)
	}

	r := internalbinary.NewReader(f, binaryConfig())
	trailer := r.At(info.Size() - int64(footerTrailerSize))
	tableStart, err := trailer.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	magic, err := trailer.ReadBytes(len(footerMagic))
	if err != nil || string(magic) != footerMagic {
		return nil, fmt.Errorf("%w: %s has no chunk offset table footer", ErrValidation, path)
	}

	table := r.At(int64(tableStart))
	n, err := table.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	offsets := make([]uint64, n)
	for i := range offsets {
		off, err := table.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		offsets[i] = off
	}
	return offsets, nil
}

// LoadChunkRaw reads one chunk's wire-format bytes (header + payload)
// directly, via the offset table ChunkOffsets exposes, without reading any
// other chunk in the container.
func LoadChunkRaw(path string, nchunk int) ([]byte, error) {
	offsets, err := ChunkOffsets(path)
	if err != nil {
		return nil, err
	}
	if nchunk < 0 || nchunk >= len(offsets) {
		return nil, fmt.Errorf("%w: chunk %d out of range (%d chunks)", ErrValidation, nchunk, len(offsets))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	r := internalbinary.NewReader(f, binaryConfig()).At(int64(offsets[nchunk]))
	clen, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return r.ReadBytes(int(clen))
}

func writeIntSlice(w *internalbinary.Writer, vals []int) error {
	if err := w.WriteUint32(uint32(len(vals))); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, v := range vals {
		if err := w.WriteUint32(uint32(v)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	return nil
}

func readIntSlice(r *internalbinary.Reader) ([]int, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	out := make([]int, n)
	for i := range out {
		v, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		out[i] = int(v)
	}
	return out, nil
}

func writeBytesField(w *internalbinary.Writer, data []byte) error {
	if err := w.WriteUint32(uint32(len(data))); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := w.WriteBytes(data); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func readBytesField(r *internalbinary.Reader) ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return r.ReadBytes(int(n))
}

// writeDtype persists only the non-struct dtype case (kind + itemsize);
// struct dtypes with field layouts are not yet round-tripped through the
// container format (documented limitation, tracked alongside the NDCell/
// NDMean filter simplifications in DESIGN.md).
func writeDtype(w *internalbinary.Writer, dt dtype.Dtype) error {
	if err := w.WriteUint8(uint8(dt.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := w.WriteUint32(uint32(dt.Itemsize)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func readDtype(r *internalbinary.Reader) (dtype.Dtype, error) {
	kind, err := r.ReadUint8()
	if err != nil {
		return dtype.Dtype{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	itemsize, err := r.ReadUint32()
	if err != nil {
		return dtype.Dtype{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return dtype.Dtype{Kind: dtype.Kind(kind), Itemsize: int(itemsize)}, nil
}
