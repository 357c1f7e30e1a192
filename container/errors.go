package container

import (
	"errors"
	"fmt"

	"ComicDetServer/magic"
)

var (
	ErrUnsupported = errors.New("unsupported container format")
	ErrExhausted   = errors.New("container entries already enumerated, reopen to enumerate again")
	ErrNoEntry     = errors.New("no such entry")
)

// Error is returned by every adapter, whatever library produced the cause.
type Error struct {
	Format magic.Format
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s container: %s: %v", e.Format, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Adapter names the back-end that failed.
func (e *Error) Adapter() magic.Format {
	return e.Format
}

func wrap(format magic.Format, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Format: format, Op: op, Err: err}
}
