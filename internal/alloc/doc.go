// Package alloc provides space allocation management for ndchunk container
// writes.
//
// SaveArray writes one chunk after another at increasing file offsets; this
// package tracks those offsets as they're handed out so the resulting
// container can carry an explicit chunk-offset table, letting a reader seek
// straight to one chunk instead of scanning every chunk before it.
//
// # Allocator
//
// The [Allocator] type is a thread-safe, append-only allocator: every
// AllocTagged call places a new block at the current end-of-file address,
// then advances it. Every allocation is recorded for Validate's bounds and
// overlap checks.
//
// # Usage
//
// Create an allocator at the position the first chunk record will start:
//
//	al := alloc.New(uint64(w.Pos()))
//	addr := al.AllocTagged(uint64(len(wire)), "chunk0")
package alloc
