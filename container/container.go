package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync/atomic"

	"ComicDetServer/logger"
	"ComicDetServer/magic"

	"go.uber.org/zap"
)

// Source is any seekable byte source a container can be opened on,
// *os.File and *bytes.Reader both qualify.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Container is the capability set every archive back-end implements.
//
// Entries is lazy and can be consumed once per open container; later calls
// yield ErrExhausted. Read returns the full content of an entry and is safe to
// call from several goroutines, adapters serialize access internally.
type Container interface {
	Format() magic.Format
	Entries() iter.Seq2[Entry, error]
	Read(e Entry) (io.ReadCloser, error)
	Close() error
}

// Open sniffs src and dispatches to the matching adapter. The caller keeps
// ownership of src and must not close it before the container.
func Open(src Source) (Container, error) {
	format, err := magic.Resolve(src)
	if err != nil {
		return nil, err
	}
	size, err := sourceSize(src)
	if err != nil {
		return nil, wrap(format, "open", err)
	}
	logger.Log().Debug("opening container", zap.Stringer("format", format), zap.Int64("size", size))

	switch format {
	case magic.Zip:
		return openZip(src, size)
	case magic.Rar:
		return openRar(src, size)
	case magic.SevenZip:
		return openSevenZip(src, size)
	case magic.Pdf:
		return openPdf(src)
	default:
		return nil, &Error{Format: format, Op: "open", Err: ErrUnsupported}
	}
}

// OpenPath opens a file or a directory. The returned container owns the file.
func OpenPath(path string) (Container, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return openDir(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := Open(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &fileContainer{Container: c, file: f}, nil
}

type fileContainer struct {
	Container
	file *os.File
}

func (c *fileContainer) Close() error {
	return errors.Join(c.Container.Close(), c.file.Close())
}

func sourceSize(src io.Seeker) (int64, error) {
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

type enumeration struct {
	used atomic.Bool
}

func (e *enumeration) begin() bool {
	return e.used.CompareAndSwap(false, true)
}

func exhausted(format magic.Format) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		yield(Entry{}, &Error{Format: format, Op: "entries", Err: ErrExhausted})
	}
}

func noEntry(format magic.Format, e Entry) error {
	return &Error{Format: format, Op: "read", Err: fmt.Errorf("%w: %d %q", ErrNoEntry, e.Pos, e.Name)}
}

func bufferedReader(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
