package magic

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pad(prefix string) []byte {
	b := []byte(prefix)
	for len(b) < WindowSize()+4 {
		b = append(b, 0xEE)
	}
	return b
}

func TestResolve_KnownSignatures(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		want   Format
	}{
		{"rar5", "Rar!\x1A\x07\x01\x00", Rar},
		{"rar4", "Rar!\x1A\x07\x00", Rar},
		{"7z", "7z\xBC\xAF\x27\x1C", SevenZip},
		{"pdf", "%PDF-1.7", Pdf},
		{"xml", `<?xml version="1.0"?>`, Xml},
		{"zip local header", "PK\x03\x04", Zip},
		{"empty zip", "PK\x05\x06", Zip},
		{"generic pk", "PKxx", Zip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := bytes.NewReader(pad(tc.prefix))
			_, _ = src.Seek(5, io.SeekStart)
			got, err := Resolve(src)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			pos, _ := src.Seek(0, io.SeekCurrent)
			assert.Equal(t, int64(0), pos)
		})
	}
}

func TestResolve_Unknown(t *testing.T) {
	for _, junk := range [][]byte{
		{0xDE, 0xAD, 0xBE, 0xEF},
		[]byte("GIF89a"),
		[]byte("Rar!\x1A\x07\x02"),
	} {
		src := bytes.NewReader(pad(string(junk)))
		got, err := Resolve(src)
		assert.ErrorIs(t, err, ErrUnknownFormat)
		assert.Equal(t, Unknown, got)
		pos, _ := src.Seek(0, io.SeekCurrent)
		assert.Equal(t, int64(0), pos)
	}
}

func TestResolve_ShortStream(t *testing.T) {
	_, err := Resolve(bytes.NewReader(nil))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownFormat))
	assert.ErrorIs(t, err, io.EOF)

	_, err = Resolve(bytes.NewReader([]byte("PK\x03\x04")))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGuess_OrderPrefersLongerRar(t *testing.T) {
	f, ok := Guess([]byte("Rar!\x1A\x07\x01\x00"))
	assert.True(t, ok)
	assert.Equal(t, Rar, f)
	assert.True(t, Is([]byte("<?xml version=\"1.0\"?><a/>"), Xml))
	assert.False(t, Is([]byte("<ComicInfo/>"), Xml))
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	f, err := ResolvePath(dir)
	require.NoError(t, err)
	assert.Equal(t, Directory, f)

	empty := filepath.Join(dir, "empty.cbz")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = ResolvePath(empty)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownFormat))

	pdf := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(pdf, pad("%PDF-1.4"), 0o644))
	f, err = ResolvePath(pdf)
	require.NoError(t, err)
	assert.Equal(t, Pdf, f)
}
