package container

import (
	"archive/zip"
	"io"
	"iter"
	"sync"

	"ComicDetServer/magic"
)

type zipContainer struct {
	mu   sync.Mutex
	r    *zip.Reader
	enum enumeration
}

func openZip(src io.ReaderAt, size int64) (*zipContainer, error) {
	r, err := zip.NewReader(src, size)
	if err != nil {
		return nil, wrap(magic.Zip, "open", err)
	}
	return &zipContainer{r: r}, nil
}

func (z *zipContainer) Format() magic.Format {
	return magic.Zip
}

func (z *zipContainer) Entries() iter.Seq2[Entry, error] {
	if !z.enum.begin() {
		return exhausted(magic.Zip)
	}
	return func(yield func(Entry, error) bool) {
		for i, f := range z.r.File {
			if !yield(zipEntry(i, f), nil) {
				return
			}
		}
	}
}

func zipEntry(pos int, f *zip.File) Entry {
	return Entry{
		Pos:  pos,
		Name: f.Name,
		Size: int64(f.UncompressedSize64),
		Kind: kindOf(f.Mode()),
	}
}

func (z *zipContainer) Read(e Entry) (io.ReadCloser, error) {
	if e.Pos < 0 || e.Pos >= len(z.r.File) || z.r.File[e.Pos].Name != e.Name {
		return nil, noEntry(magic.Zip, e)
	}
	z.mu.Lock()
	defer z.mu.Unlock()

	rc, err := z.r.File[e.Pos].Open()
	if err != nil {
		return nil, wrap(magic.Zip, "read", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap(magic.Zip, "read", err)
	}
	return bufferedReader(b), nil
}

func (z *zipContainer) Close() error {
	return nil
}
