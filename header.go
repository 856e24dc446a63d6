package packarchive

import (
	"encoding/binary"
	"fmt"

	"github.com/dataloom/packarchive/errors"
)

// capacityPrefixBytes is the size, in bytes, of the big-endian u64 that
// precedes the serialized index and records its reserved capacity M.
const capacityPrefixBytes = 8

// Header is an insertion-ordered mapping from string keys to
// EntryDescriptors, together with the fixed on-disk capacity reserved for
// its serialized form. A zero Header is not usable; construct one with
// NewHeader or ReadHeader.
type Header struct {
	maxSize uint64
	keys    []string
	index   map[string]int
	entries []EntryDescriptor
	dataLen uint64
}

// NewHeader returns an empty Header reserving maxSize bytes for its
// serialized on-disk form. maxSize must be greater than zero.
func NewHeader(maxSize uint64) (*Header, error) {
	if maxSize == 0 {
		return nil, errors.E(errors.Invalid, "header capacity must be greater than zero")
	}
	return &Header{
		maxSize: maxSize,
		index:   make(map[string]int),
	}, nil
}

// MaxSize returns the header's reserved on-disk capacity, M.
func (h *Header) MaxSize() uint64 { return h.maxSize }

// Count returns the number of entries in the header.
func (h *Header) Count() int { return len(h.entries) }

// IsEmpty tells whether the header has zero entries.
func (h *Header) IsEmpty() bool { return len(h.entries) == 0 }

// DataSize returns the total length, in bytes, of the payloads the header
// currently describes — equivalently, the length of the data region this
// header is consistent with.
func (h *Header) DataSize() uint64 { return h.dataLen }

// Get returns the descriptor for key, if present.
func (h *Header) Get(key string) (EntryDescriptor, bool) {
	i, ok := h.index[key]
	if !ok {
		return EntryDescriptor{}, false
	}
	return h.entries[i], true
}

// At returns the key and descriptor at position i in insertion order.
func (h *Header) At(i int) (string, EntryDescriptor, error) {
	if i < 0 || i >= len(h.entries) {
		return "", EntryDescriptor{}, errors.E(errors.IndexOutOfBounds,
			fmt.Sprintf("header position %d out of range [0, %d)", i, len(h.entries)))
	}
	return h.keys[i], h.entries[i], nil
}

// Range returns the keys and descriptors of the half-open position range
// [lo, hi), in insertion order.
func (h *Header) Range(lo, hi int) ([]string, []EntryDescriptor, error) {
	if lo < 0 || hi > len(h.entries) || lo > hi {
		return nil, nil, errors.E(errors.IndexOutOfBounds,
			fmt.Sprintf("header range [%d, %d) out of range [0, %d)", lo, hi, len(h.entries)))
	}
	return h.keys[lo:hi], h.entries[lo:hi], nil
}

// Insert appends a new entry for key with the given payload length, packed
// immediately after the current last entry. It fails with DuplicateKey if
// key is already present.
func (h *Header) Insert(key string, length uint64) (EntryDescriptor, error) {
	if _, ok := h.index[key]; ok {
		return EntryDescriptor{}, errors.E(errors.DuplicateKey, fmt.Sprintf("key %q already exists", key))
	}
	d, err := newEntryDescriptor(h.dataLen, length)
	if err != nil {
		return EntryDescriptor{}, err
	}
	h.index[key] = len(h.entries)
	h.keys = append(h.keys, key)
	h.entries = append(h.entries, d)
	h.dataLen = d.End()
	return d, nil
}

// marshal serializes the header's ordered key->descriptor map using a
// compact binary encoding: an entry count, then for each entry a
// length-prefixed key, its start and its length, all integers written as
// encoding/binary unsigned varints (seven bits per byte, least-significant
// group first). It does not include the capacity prefix.
func (h *Header) marshal() []byte {
	e := headerEncoder{}
	e.putUvarint(uint64(len(h.entries)))
	for i, key := range h.keys {
		e.putString(key)
		e.putUvarint(h.entries[i].Start)
		e.putUvarint(h.entries[i].Length)
	}
	return e.data
}

// unmarshal replaces h's contents with the header encoded in data.
func (h *Header) unmarshal(data []byte) error {
	d := headerDecoder{data: data}
	n, err := d.getUvarint()
	if err != nil {
		return errors.E(errors.Format, "header: failed to read entry count", err)
	}
	keys := make([]string, 0, n)
	entries := make([]EntryDescriptor, 0, n)
	index := make(map[string]int, n)
	dataLen := uint64(0)
	for i := uint64(0); i < n; i++ {
		key, err := d.getString()
		if err != nil {
			return errors.E(errors.Format, "header: failed to read key", err)
		}
		start, err := d.getUvarint()
		if err != nil {
			return errors.E(errors.Format, "header: failed to read entry start", err)
		}
		length, err := d.getUvarint()
		if err != nil {
			return errors.E(errors.Format, "header: failed to read entry length", err)
		}
		if _, ok := index[key]; ok {
			return errors.E(errors.Format, fmt.Sprintf("header: duplicate key %q in serialized index", key))
		}
		index[key] = len(entries)
		keys = append(keys, key)
		entries = append(entries, EntryDescriptor{Start: start, Length: length})
		dataLen = start + length
	}
	h.keys = keys
	h.entries = entries
	h.index = index
	h.dataLen = dataLen
	return nil
}

// headerEncoder accumulates a compact binary encoding of header contents:
// unsigned varints and length-prefixed strings, the wire format that
// headerDecoder parses.
type headerEncoder struct {
	data []byte
}

func (e *headerEncoder) putUvarint(v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	e.data = append(e.data, buf[:n]...)
}

func (e *headerEncoder) putString(s string) {
	e.putUvarint(uint64(len(s)))
	e.data = append(e.data, s...)
}

// headerDecoder parses a buffer produced by headerEncoder.
type headerDecoder struct {
	data []byte
}

func (d *headerDecoder) getUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		return 0, fmt.Errorf("failed to parse varint")
	}
	d.data = d.data[n:]
	return v, nil
}

func (d *headerDecoder) getString() (string, error) {
	n, err := d.getUvarint()
	if err != nil {
		return "", err
	}
	if uint64(len(d.data)) < n {
		return "", fmt.Errorf("string of length %d exceeds remaining %d bytes", n, len(d.data))
	}
	s := string(d.data[:n])
	d.data = d.data[n:]
	return s, nil
}

// ReadHeader reads and parses the header from source: the 8-byte capacity
// prefix followed by the capacity's reserved window. It also validates
// that the data region implied by the header matches the source's actual
// size, surfacing Format on mismatch.
func ReadHeader(source Source) (*Header, error) {
	size, err := source.Size()
	if err != nil {
		return nil, errors.E(errors.IO, "header: failed to stat source", err)
	}
	if size < capacityPrefixBytes {
		return nil, errors.E(errors.Format, "header: source too small to contain capacity prefix")
	}
	var prefix [capacityPrefixBytes]byte
	if _, err := readFullAt(source, prefix[:], 0); err != nil {
		return nil, errors.E(errors.IO, "header: failed to read capacity prefix", err)
	}
	maxSize := binary.BigEndian.Uint64(prefix[:])
	if maxSize == 0 {
		return nil, errors.E(errors.Format, "header: capacity prefix is zero")
	}
	headerSize := int64(capacityPrefixBytes) + int64(maxSize)
	if size < headerSize {
		return nil, errors.E(errors.Format, "header: source too small for declared capacity")
	}
	window := make([]byte, maxSize)
	if _, err := readFullAt(source, window, capacityPrefixBytes); err != nil {
		return nil, errors.E(errors.IO, "header: failed to read index window", err)
	}
	h := &Header{maxSize: maxSize, index: make(map[string]int)}
	if err := h.unmarshal(window); err != nil {
		return nil, err
	}
	wantSize := headerSize + int64(h.dataLen)
	if size != wantSize {
		return nil, errors.E(errors.Format, fmt.Sprintf(
			"header: source size %d does not match header+data size %d (header=%d, data=%d)",
			size, wantSize, headerSize, h.dataLen))
	}
	return h, nil
}

// readFullAt reads exactly len(buf) bytes from source at offset off,
// surfacing IO on a short read.
func readFullAt(source Source, buf []byte, off int64) (int, error) {
	n, err := source.ReadAt(buf, off)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("short read: got %d bytes, wanted %d", n, len(buf))
	}
	return n, nil
}
