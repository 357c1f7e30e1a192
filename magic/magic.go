package magic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"ComicDetServer/logger"

	"go.uber.org/zap"
)

type Format int

const (
	Unknown Format = iota
	Zip
	Rar
	SevenZip
	Pdf
	Xml
	Directory
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case Rar:
		return "rar"
	case SevenZip:
		return "7z"
	case Pdf:
		return "pdf"
	case Xml:
		return "xml"
	case Directory:
		return "directory"
	default:
		return "unknown"
	}
}

var ErrUnknownFormat = errors.New("unknown file format")

type signature struct {
	prefix []byte
	format Format
}

// Longer signatures must stay ahead of the ones they share a prefix with.
var signatures = []signature{
	{[]byte("Rar!\x1A\x07\x01\x00"), Rar},
	{[]byte("Rar!\x1A\x07\x00"), Rar},
	{[]byte("7z\xBC\xAF\x27\x1C"), SevenZip},
	{[]byte("%PDF-"), Pdf},
	{[]byte("<?xml version="), Xml},
	{[]byte("PK\x03\x04"), Zip},
	{[]byte("PK\x05\x06"), Zip},
	{[]byte("PK"), Zip},
}

var windowSize = func() int {
	n := 0
	for _, s := range signatures {
		if len(s.prefix) > n {
			n = len(s.prefix)
		}
	}
	return n
}()

// WindowSize is the number of leading bytes Resolve needs.
func WindowSize() int {
	return windowSize
}

// Resolve reads the signature window from the start of src and classifies it.
// The position of src is reset to 0 once the window was read.
func Resolve(src io.ReadSeeker) (Format, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return Unknown, fmt.Errorf("seek to signature: %w", err)
	}
	buf := make([]byte, windowSize)
	if _, err := io.ReadFull(src, buf); err != nil {
		_, _ = src.Seek(0, io.SeekStart)
		return Unknown, fmt.Errorf("read signature window (%d bytes): %w", windowSize, err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return Unknown, fmt.Errorf("rewind after signature: %w", err)
	}
	f, ok := Guess(buf)
	if !ok {
		logger.Log().Debug("unrecognized signature", zap.Binary("prefix", buf))
		return Unknown, ErrUnknownFormat
	}
	return f, nil
}

// Guess matches buf against the signature table without touching any stream.
func Guess(buf []byte) (Format, bool) {
	for _, s := range signatures {
		if bytes.HasPrefix(buf, s.prefix) {
			return s.format, true
		}
	}
	return Unknown, false
}

// Is reports whether buf starts with a signature of format f.
func Is(buf []byte, f Format) bool {
	got, ok := Guess(buf)
	return ok && got == f
}

// ResolvePath classifies a path, mapping directories to Directory.
func ResolvePath(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Unknown, err
	}
	if info.IsDir() {
		return Directory, nil
	}
	if !info.Mode().IsRegular() {
		return Unknown, fmt.Errorf("%s: not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()
	return Resolve(f)
}
