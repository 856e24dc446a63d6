package packarchive

import (
	"context"
	"fmt"

	"github.com/dataloom/packarchive/errors"
)

// Block is a contiguous half-open range [Lo, Hi) of positions in a
// Header's insertion order, treated as one I/O unit: a single read covers
// every entry the block contains.
type Block struct {
	header *Header
	lo, hi int
}

// NumEntries returns the number of entries the block covers.
func (b Block) NumEntries() int { return b.hi - b.lo }

// Keys returns the keys of the block's entries, in header order.
func (b Block) Keys() []string {
	keys := make([]string, b.NumEntries())
	copy(keys, b.header.keys[b.lo:b.hi])
	return keys
}

// LenBytes returns the contiguous byte span, in the data region, covered
// by the block's entries.
func (b Block) LenBytes() uint64 {
	first := b.header.entries[b.lo]
	last := b.header.entries[b.hi-1]
	return last.End() - first.Start
}

// ByteRange returns the block's extent in absolute file coordinates, given
// the size of the header region (8 + M) preceding the data region.
func (b Block) ByteRange(headerSize uint64) (start, end uint64) {
	first := b.header.entries[b.lo]
	last := b.header.entries[b.hi-1]
	return headerSize + first.Start, headerSize + last.End()
}

// RangeInBuffer returns the sub-slice, within a buffer obtained by reading
// the block's ByteRange, that corresponds to descriptor d.
func (b Block) RangeInBuffer(d EntryDescriptor) (start, end uint64) {
	base := b.header.entries[b.lo].Start
	return d.Start - base, d.End() - base
}

// Read seeks to the block's byte range on source and reads exactly
// LenBytes into a freshly allocated buffer.
func (b Block) Read(source Source, headerSize uint64) ([]byte, error) {
	return b.read(source.ReadAt, headerSize)
}

// ReadContext is like Read, but if source implements ContextSource, it
// issues the read through ReadAtContext so the read can be aborted
// promptly on ctx cancellation; otherwise it falls back to the plain
// Source.ReadAt, which is not itself cancellable mid-syscall.
func (b Block) ReadContext(ctx context.Context, source Source, headerSize uint64) ([]byte, error) {
	if cs, ok := source.(ContextSource); ok {
		return b.read(func(p []byte, off int64) (int, error) {
			return cs.ReadAtContext(ctx, p, off)
		}, headerSize)
	}
	return b.read(source.ReadAt, headerSize)
}

func (b Block) read(readAt func(p []byte, off int64) (int, error), headerSize uint64) ([]byte, error) {
	start, end := b.ByteRange(headerSize)
	buf := make([]byte, end-start)
	n, err := readAt(buf, int64(start))
	if err != nil {
		return nil, errors.E(errors.IO, fmt.Sprintf("block read at [%d, %d)", start, end), err)
	}
	if uint64(n) != end-start {
		return nil, errors.E(errors.IO, fmt.Sprintf(
			"block read at [%d, %d): short read, got %d bytes", start, end, n))
	}
	return buf, nil
}

// KeyValue is one (key, value) pair yielded from a block.
type KeyValue struct {
	Key   string
	Value []byte
}

// ToSlice slices buf (as returned by Read) back into its constituent
// entries, in header order. Each returned value is copied into its own
// owned buffer, per this module's choice of the safe (copying) block
// buffer ownership strategy (see SPEC_FULL.md §9).
func (b Block) ToSlice(buf []byte) []KeyValue {
	out := make([]KeyValue, 0, b.NumEntries())
	for i := b.lo; i < b.hi; i++ {
		key := b.header.keys[i]
		start, end := b.RangeInBuffer(b.header.entries[i])
		value := make([]byte, end-start)
		copy(value, buf[start:end])
		out = append(out, KeyValue{Key: key, Value: value})
	}
	return out
}
