package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/pixelpress/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode materializes data into a raster. Sniffing is not consulted: bytes
// that carry a known signature but do not parse still fail here.
//
// When maxDecodedBytes is positive the header is read first and images whose
// RGBA raster would exceed it are rejected without decoding pixels.
func Decode(data []byte, maxDecodedBytes int64) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels (%dx%d)", domain.ErrUnsupportedFormat, cfg.Width, cfg.Height)
	}
	if maxDecodedBytes > 0 {
		decoded := int64(cfg.Width) * int64(cfg.Height) * 4
		if decoded > maxDecodedBytes {
			return nil, fmt.Errorf("%w: %dx%d image needs %d bytes decoded, limit is %d",
				domain.ErrPayloadTooLarge, cfg.Width, cfg.Height, decoded, maxDecodedBytes)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	return img, nil
}
