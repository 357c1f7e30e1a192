package container

import (
	"errors"
	"io"
	"iter"
	"sync"

	"ComicDetServer/magic"

	"github.com/nwaples/rardecode/v2"
)

// rarContainer wraps a streaming decoder: entries can only be reached by
// walking the archive from the start. Reads keep a live stream positioned
// after the last entry read, so reading in native order walks it once.
// Reading an earlier entry restarts the stream.
type rarContainer struct {
	src  io.ReaderAt
	size int64
	enum enumeration

	mu  sync.Mutex
	r   *rardecode.Reader
	cur int
}

func openRar(src io.ReaderAt, size int64) (*rarContainer, error) {
	c := &rarContainer{src: src, size: size, cur: -1}
	// A bad header fails here rather than at first use.
	if _, err := c.stream(); err != nil {
		return nil, wrap(magic.Rar, "open", err)
	}
	return c, nil
}

func (c *rarContainer) stream() (*rardecode.Reader, error) {
	return rardecode.NewReader(io.NewSectionReader(c.src, 0, c.size))
}

func (c *rarContainer) Format() magic.Format {
	return magic.Rar
}

func (c *rarContainer) Entries() iter.Seq2[Entry, error] {
	if !c.enum.begin() {
		return exhausted(magic.Rar)
	}
	return func(yield func(Entry, error) bool) {
		r, err := c.stream()
		if err != nil {
			yield(Entry{}, wrap(magic.Rar, "entries", err))
			return
		}
		for pos := 0; ; pos++ {
			h, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, wrap(magic.Rar, "entries", err))
				return
			}
			if !yield(rarEntry(pos, h), nil) {
				return
			}
		}
	}
}

func rarEntry(pos int, h *rardecode.FileHeader) Entry {
	kind := kindOf(h.Mode())
	if h.IsDir {
		kind = Directory
	}
	size := h.UnPackedSize
	if h.UnKnownSize {
		size = -1
	}
	return Entry{Pos: pos, Name: h.Name, Size: size, Kind: kind}
}

func (c *rarContainer) Read(e Entry) (io.ReadCloser, error) {
	if e.Pos < 0 {
		return nil, noEntry(magic.Rar, e)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.r == nil || e.Pos <= c.cur {
		r, err := c.stream()
		if err != nil {
			c.r = nil
			return nil, wrap(magic.Rar, "read", err)
		}
		c.r, c.cur = r, -1
	}
	var h *rardecode.FileHeader
	for c.cur < e.Pos {
		next, err := c.r.Next()
		if err != nil {
			c.r = nil
			if errors.Is(err, io.EOF) {
				return nil, noEntry(magic.Rar, e)
			}
			return nil, wrap(magic.Rar, "read", err)
		}
		h = next
		c.cur++
	}
	if h.Name != e.Name {
		return nil, noEntry(magic.Rar, e)
	}
	b, err := io.ReadAll(c.r)
	if err != nil {
		c.r = nil
		return nil, wrap(magic.Rar, "read", err)
	}
	return bufferedReader(b), nil
}

func (c *rarContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.r = nil
	return nil
}
