//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"
)

type stdlibLossy struct{}

func (stdlibLossy) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (stdlibLossy) EncodeWebP(img image.Image, quality int) ([]byte, error) {
	return encodeWebP(img, quality)
}
