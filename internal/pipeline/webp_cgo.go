//go:build cgo && !govips

package pipeline

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
