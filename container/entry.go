package container

import "io/fs"

type Kind int

const (
	RegularFile Kind = iota
	Directory
	Other
)

func (k Kind) String() string {
	switch k {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	default:
		return "other"
	}
}

// Entry is one item of a container. Pos is the zero-based position in the
// container's native enumeration order and stays stable for its lifetime.
// Size is the uncompressed size, -1 when the adapter cannot tell without decoding.
type Entry struct {
	Pos  int    `json:"pos"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Kind Kind   `json:"kind"`
}

func (e Entry) IsFile() bool {
	return e.Kind == RegularFile
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsDir():
		return Directory
	case mode.IsRegular():
		return RegularFile
	default:
		return Other
	}
}
