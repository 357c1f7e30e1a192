package filehash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"ComicDetServer/task"

	"golang.org/x/crypto/blake2b"
)

const chunkSize = 1 << 20

// Result identifies file content for de-duplication.
type Result struct {
	Size int64
	Hash [blake2b.Size]byte
}

func (r Result) Hex() string {
	return hex.EncodeToString(r.Hash[:])
}

// Sum hashes all of src with BLAKE2b-512, checking t between chunks. The
// position of src is reset to 0 afterwards.
func Sum(t *task.Task, src io.ReadSeeker) (Result, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("seek: %w", err)
	}
	defer src.Seek(0, io.SeekStart)

	h, err := blake2b.New512(nil)
	if err != nil {
		return Result{}, err
	}
	buf := make([]byte, chunkSize)
	var size int64
	for {
		if err := t.Check(); err != nil {
			return Result{}, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read: %w", err)
		}
	}

	res := Result{Size: size}
	copy(res.Hash[:], h.Sum(nil))
	return res, nil
}
