package pipeline

import (
	"errors"
	"fmt"

	"ComicDetServer/container"
	"ComicDetServer/task"
)

var (
	ErrCantFind   = errors.New("no image entry at position")
	ErrEmptyEntry = errors.New("entry is empty")
	ErrImage      = errors.New("image cannot be opened")
	ErrNoPages    = errors.New("container has no readable pages")
	ErrNoMetadata = errors.New("container has no comic info")
)

// PageError reports one entry that failed while the rest of the container
// kept going.
type PageError struct {
	Entry container.Entry
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("entry %d %q: %v", e.Entry.Pos, e.Entry.Name, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// checked gives cancellation precedence over whatever err a stage produced.
func checked(t *task.Task, err error) error {
	if cerr := t.Check(); cerr != nil {
		return cerr
	}
	return err
}
