//go:build !gocv

package imagecodec

// Default is the codec the server runs with.
func Default() Codec {
	return NewStd()
}
