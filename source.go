package packarchive

import (
	"context"
	"os"

	"github.com/dataloom/packarchive/errors"
)

// Source is the read-seek capability a Reader is parameterized over: a
// positional read of an exact byte range, and the total size of the
// underlying object. Implementations must be safe for concurrent use by
// multiple readers, since multiple independent Readers may share one
// Source. This package's local-file implementation is LocalSource;
// package s3source provides a remote implementation over AWS S3.
type Source interface {
	// ReadAt reads len(p) bytes starting at absolute offset off. It
	// follows io.ReaderAt's contract: on a short read it returns a
	// non-nil error.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total size, in bytes, of the underlying object.
	Size() (int64, error)
}

// ContextSource is a Source whose reads may be bound to a context, for
// sources where I/O has meaningful latency (e.g. remote object stores).
// Implementations should abort an in-flight read promptly when ctx is
// canceled. LocalSource does not implement this interface; local file I/O
// is not cancellable mid-syscall, matching the synchronous core's scope
// (see SPEC_FULL.md §5).
type ContextSource interface {
	Source
	ReadAtContext(ctx context.Context, p []byte, off int64) (n int, err error)
}

// LocalSource is a Source backed by an open local file.
type LocalSource struct {
	f *os.File
}

// OpenLocalSource opens path read-only as a Source.
func OpenLocalSource(path string) (*LocalSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(errors.IO, "failed to open archive", err)
	}
	return &LocalSource{f: f}, nil
}

// ReadAt implements Source.
func (s *LocalSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size implements Source.
func (s *LocalSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying file.
func (s *LocalSource) Close() error {
	return s.f.Close()
}
