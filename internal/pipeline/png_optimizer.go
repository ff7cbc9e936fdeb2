package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpress/internal/domain"
)

const (
	DefaultPNGOptimizeTimeout = 10 * time.Second
	DefaultMaxDecodedBytes    = 512 << 20
)

// PNGOptimizer re-encodes a raster as the smallest of several lossless PNG
// candidates it can produce within its time budget.
type PNGOptimizer struct {
	Timeout           time.Duration
	MaxDecodedBytes   int64
	AggressiveCeiling int
}

type pngCandidate func(base *image.NRGBA) (image.Image, bool)

// Optimize always produces the plain re-encode; reductions are tried in
// order until ctx or the optimizer budget expires, keeping the smallest.
// quality at or below the aggressive ceiling, or aggressive mode, switches to
// best compression and enables the gray and palette reductions.
func (o PNGOptimizer) Optimize(ctx context.Context, img image.Image, quality int, aggressive bool) ([]byte, error) {
	b := img.Bounds()
	if o.MaxDecodedBytes > 0 && int64(b.Dx())*int64(b.Dy())*4 > o.MaxDecodedBytes {
		return nil, fmt.Errorf("%w: %dx%d raster exceeds png optimizer limit of %d bytes",
			domain.ErrEncodingFailure, b.Dx(), b.Dy(), o.MaxDecodedBytes)
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultPNGOptimizeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ceiling := o.AggressiveCeiling
	if ceiling <= 0 {
		ceiling = DefaultAggressiveQuality
	}
	strict := aggressive || quality <= ceiling

	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	candidates := []pngCandidate{alphaOptimized}
	if strict {
		enc.CompressionLevel = png.BestCompression
		candidates = append(candidates, grayReduced, paletteReduced)
	}

	best, err := writePNG(&enc, img)
	if err != nil {
		return nil, err
	}

	base := imaging.Clone(img)
	clearTransparentColor(base)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		reduced, ok := candidate(base)
		if !ok {
			continue
		}
		data, err := writePNG(&enc, reduced)
		if err != nil {
			continue
		}
		if len(data) < len(best) {
			best = data
		}
	}
	return best, nil
}

func writePNG(enc *png.Encoder, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clearTransparentColor zeroes the colour of fully transparent pixels so they
// compress as one run.
func clearTransparentColor(img *image.NRGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0
		}
	}
}

// alphaOptimized is the cleared base itself. The png encoder already drops
// the alpha channel when every pixel is opaque.
func alphaOptimized(base *image.NRGBA) (image.Image, bool) {
	return base, true
}

func grayReduced(base *image.NRGBA) (image.Image, bool) {
	pix := base.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i+3] != 0xFF || pix[i] != pix[i+1] || pix[i] != pix[i+2] {
			return nil, false
		}
	}
	gray := image.NewGray(base.Rect)
	for i, j := 0, 0; i+3 < len(pix); i, j = i+4, j+1 {
		gray.Pix[j] = pix[i]
	}
	return gray, true
}

// paletteReduced indexes images with at most 256 colours. Partially
// transparent pixels are excluded because palette entries round-trip through
// premultiplied colour.
func paletteReduced(base *image.NRGBA) (image.Image, bool) {
	index := make(map[color.NRGBA]uint8, 256)
	palette := make(color.Palette, 0, 256)
	pix := base.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		a := pix[i+3]
		if a != 0 && a != 0xFF {
			return nil, false
		}
		c := color.NRGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: a}
		if _, ok := index[c]; ok {
			continue
		}
		if len(palette) == 256 {
			return nil, false
		}
		index[c] = uint8(len(palette))
		palette = append(palette, c)
	}

	paletted := image.NewPaletted(base.Rect, palette)
	for i, j := 0, 0; i+3 < len(pix); i, j = i+4, j+1 {
		paletted.Pix[j] = index[color.NRGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: pix[i+3]}]
	}
	return paletted, true
}
