package packarchive

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/dataloom/packarchive/errors"
	"github.com/dataloom/packarchive/log"
)

// DefaultStagingThreshold is the default staging-buffer size, in bytes, at
// which Write flushes automatically.
const DefaultStagingThreshold = 100 << 20

// DefaultHeaderCapacity is the default reserved on-disk header capacity,
// in bytes, for newly created archives.
const DefaultHeaderCapacity = 1 << 20

// Writer appends (key, value) pairs to a single archive file, staging
// payload bytes in memory and periodically flushing them to the data
// region, followed by a full header rewrite. A Writer is exclusively owned
// by one producer; it is not safe for concurrent use.
type Writer struct {
	path      string
	threshold int
	header    *Header

	staging []byte
	pending []string // keys inserted into header since the last flush

	created bool // whether the on-disk file already has its header+prefix written
}

// Create returns a new Writer for a new archive at path, reserving
// headerMaxSize bytes for the header and flushing automatically once the
// staging buffer reaches cacheSize bytes. It does not touch the filesystem
// until the first flush.
func Create(path string, cacheSize, headerMaxSize int) (*Writer, error) {
	if headerMaxSize < 0 {
		return nil, errors.E(errors.Invalid, "header capacity must be greater than zero")
	}
	header, err := NewHeader(uint64(headerMaxSize))
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:      path,
		threshold: cacheSize,
		header:    header,
	}, nil
}

// Load returns a Writer resuming appends to the existing archive at path.
// It fails with EmptyArchive if the archive's data region is empty.
func Load(path string, cacheSize int) (*Writer, error) {
	source, err := OpenLocalSource(path)
	if err != nil {
		return nil, err
	}
	defer source.Close() // nolint: errcheck
	header, err := ReadHeader(source)
	if err != nil {
		return nil, err
	}
	if header.DataSize() == 0 {
		return nil, errors.E(errors.EmptyArchive, "cannot load an archive with an empty data region")
	}
	return &Writer{
		path:      path,
		threshold: cacheSize,
		header:    header,
		created:   true,
	}, nil
}

// append extends the staging buffer with value and records a new header
// entry for key.
func (w *Writer) append(key string, value []byte) error {
	if len(value) == 0 {
		return errors.E(errors.Invalid, "value must be non-empty")
	}
	if _, err := w.header.Insert(key, uint64(len(value))); err != nil {
		return err
	}
	w.staging = append(w.staging, value...)
	w.pending = append(w.pending, key)
	return nil
}

// flush appends all staged bytes to the data region, then rewrites the
// header, then clears the staging buffer. Payload bytes are appended
// before the header is rewritten, so that after every successful flush the
// on-disk header never references bytes that have not yet been written
// (see SPEC_FULL.md §4.2, §7). A flush with nothing pending is a no-op on
// an archive that has already been created, but the writer's very first
// flush still reserves the header region and writes a (possibly empty)
// header, so that Create followed immediately by Close leaves behind a
// valid, zero-entry archive rather than no file at all.
func (w *Writer) flush() error {
	if len(w.pending) == 0 && w.created {
		return nil
	}
	if err := w.ensureCreated(); err != nil {
		return err
	}
	if err := w.appendPayload(); err != nil {
		return err
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	log.Info.Printf("packarchive: flushed %d entries (%d bytes) to %s", len(w.pending), len(w.staging), w.path)
	w.staging = w.staging[:0]
	w.pending = w.pending[:0]
	return nil
}

// ensureCreated reserves the header region on disk for a brand-new
// archive. It is a no-op for an archive loaded from an existing file.
func (w *Writer) ensureCreated() error {
	if w.created {
		return nil
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.E(errors.IO, "failed to create archive", err)
	}
	defer f.Close() // nolint: errcheck
	headerSize := capacityPrefixBytes + int64(w.header.MaxSize())
	if err := f.Truncate(headerSize); err != nil {
		return errors.E(errors.IO, "failed to reserve header region", err)
	}
	w.created = true
	return nil
}

// appendPayload opens the archive in append mode and writes the currently
// staged payload bytes to the end of the file.
func (w *Writer) appendPayload() error {
	if len(w.staging) == 0 {
		return nil
	}
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.E(errors.IO, "failed to open archive for append", err)
	}
	defer f.Close() // nolint: errcheck
	if _, err := f.Write(w.staging); err != nil {
		return errors.E(errors.IO, "failed to append payload", err)
	}
	log.Debug.Printf("packarchive: appended %d bytes to data region of %s", len(w.staging), w.path)
	return nil
}

// writeHeader overwrites the 8-byte capacity prefix and the reserved
// index window with the current header contents.
func (w *Writer) writeHeader() error {
	serialized := w.header.marshal()
	maxSize := w.header.MaxSize()
	if uint64(len(serialized)) > maxSize {
		return errors.E(errors.HeaderOverflow, "serialized header exceeds reserved capacity")
	}
	f, err := os.OpenFile(w.path, os.O_WRONLY, 0644)
	if err != nil {
		return errors.E(errors.IO, "failed to open archive for header rewrite", err)
	}
	defer f.Close() // nolint: errcheck
	var prefix [capacityPrefixBytes]byte
	binary.BigEndian.PutUint64(prefix[:], maxSize)
	if _, err := f.WriteAt(prefix[:], 0); err != nil {
		return errors.E(errors.IO, "failed to write capacity prefix", err)
	}
	if _, err := f.WriteAt(serialized, capacityPrefixBytes); err != nil {
		return errors.E(errors.IO, "failed to write header window", err)
	}
	return nil
}

// Write appends (key, value), flushing immediately if the staging buffer's
// size (after this append) meets or exceeds the configured threshold; a
// threshold of zero or less disables automatic flushing, leaving all
// payload staged until Close. ctx
// is accepted for signature parity with this codebase's other I/O-bound
// APIs; the local-file write path below is not itself cancellable
// mid-syscall (see SPEC_FULL.md §5), so ctx is only checked up front.
func (w *Writer) Write(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.E(errors.Canceled, "write canceled", err)
	}
	if err := w.append(key, value); err != nil {
		return err
	}
	if w.threshold > 0 && len(w.staging) >= w.threshold {
		return w.flush()
	}
	return nil
}

// Close forces a final flush, regardless of the staging threshold.
func (w *Writer) Close() error {
	return w.flush()
}
