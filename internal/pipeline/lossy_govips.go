//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsLossy struct{}

func (govipsLossy) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	ref, err := toVips(img)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	params := vips.NewJpegExportParams()
	params.Quality = quality
	params.StripMetadata = true
	data, _, err := ref.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("vips export jpeg: %w", err)
	}
	return data, nil
}

func (govipsLossy) EncodeWebP(img image.Image, quality int) ([]byte, error) {
	ref, err := toVips(img)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	params.StripMetadata = true
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("vips export webp: %w", err)
	}
	return data, nil
}

// toVips hands the raster to libvips through a fast lossless PNG buffer.
func toVips(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("stage raster for vips: %w", err)
	}
	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load raster into vips: %w", err)
	}
	return ref, nil
}
