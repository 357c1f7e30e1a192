package container

import (
	"io"
	"iter"
	"os"
	"path/filepath"

	"ComicDetServer/magic"
)

// dirContainer treats a folder as a flat entry list. The listing is taken at
// open time, sorted by name.
type dirContainer struct {
	root    string
	entries []Entry
	enum    enumeration
}

func openDir(root string) (*dirContainer, error) {
	list, err := os.ReadDir(root)
	if err != nil {
		return nil, wrap(magic.Directory, "open", err)
	}
	entries := make([]Entry, 0, len(list))
	for i, d := range list {
		e := Entry{Pos: i, Name: d.Name(), Size: -1, Kind: kindOf(d.Type())}
		if info, err := d.Info(); err == nil {
			if e.Kind == RegularFile {
				e.Size = info.Size()
			}
		}
		entries = append(entries, e)
	}
	return &dirContainer{root: root, entries: entries}, nil
}

func (d *dirContainer) Format() magic.Format {
	return magic.Directory
}

func (d *dirContainer) Entries() iter.Seq2[Entry, error] {
	if !d.enum.begin() {
		return exhausted(magic.Directory)
	}
	return func(yield func(Entry, error) bool) {
		for _, e := range d.entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (d *dirContainer) Read(e Entry) (io.ReadCloser, error) {
	if e.Pos < 0 || e.Pos >= len(d.entries) || d.entries[e.Pos].Name != e.Name {
		return nil, noEntry(magic.Directory, e)
	}
	f, err := os.Open(filepath.Join(d.root, e.Name))
	if err != nil {
		return nil, wrap(magic.Directory, "read", err)
	}
	return f, nil
}

func (d *dirContainer) Close() error {
	return nil
}
