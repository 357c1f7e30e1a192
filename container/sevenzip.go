package container

import (
	"io"
	"iter"
	"sync"

	"ComicDetServer/magic"

	"github.com/bodgit/sevenzip"
)

// sevenZipContainer decodes LZMA/LZMA2 streams in-process. Reading entries in
// native order lets the library reuse the solid block decoder.
type sevenZipContainer struct {
	mu   sync.Mutex
	r    *sevenzip.Reader
	enum enumeration
}

func openSevenZip(src io.ReaderAt, size int64) (*sevenZipContainer, error) {
	r, err := sevenzip.NewReader(src, size)
	if err != nil {
		return nil, wrap(magic.SevenZip, "open", err)
	}
	return &sevenZipContainer{r: r}, nil
}

func (s *sevenZipContainer) Format() magic.Format {
	return magic.SevenZip
}

func (s *sevenZipContainer) Entries() iter.Seq2[Entry, error] {
	if !s.enum.begin() {
		return exhausted(magic.SevenZip)
	}
	return func(yield func(Entry, error) bool) {
		for i, f := range s.r.File {
			e := Entry{
				Pos:  i,
				Name: f.Name,
				Size: int64(f.UncompressedSize),
				Kind: kindOf(f.FileInfo().Mode()),
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *sevenZipContainer) Read(e Entry) (io.ReadCloser, error) {
	if e.Pos < 0 || e.Pos >= len(s.r.File) || s.r.File[e.Pos].Name != e.Name {
		return nil, noEntry(magic.SevenZip, e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, err := s.r.File[e.Pos].Open()
	if err != nil {
		return nil, wrap(magic.SevenZip, "read", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap(magic.SevenZip, "read", err)
	}
	return bufferedReader(b), nil
}

func (s *sevenZipContainer) Close() error {
	return nil
}
