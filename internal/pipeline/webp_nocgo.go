//go:build !cgo

package pipeline

import (
	"errors"
	"image"
)

// ErrWebPUnavailable is returned for webp output in builds without cgo.
var ErrWebPUnavailable = errors.New("webp export requires a cgo build")

func encodeWebP(image.Image, int) ([]byte, error) {
	return nil, ErrWebPUnavailable
}
