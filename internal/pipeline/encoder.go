package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpress/internal/domain"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// DefaultAggressiveQuality is the lossy quality ceiling applied in
// aggressive mode.
const DefaultAggressiveQuality = 60

// ResolveOutputFormat picks the output format. An explicit request wins;
// otherwise every source format, png included, maps to JPEG.
func ResolveOutputFormat(requested *domain.Format, _ string) domain.Format {
	if requested != nil {
		return *requested
	}
	return domain.FormatJPEG
}

// EffectiveQuality applies the aggressive ceiling to the requested quality.
func EffectiveQuality(quality int, aggressive bool, ceiling int) int {
	if ceiling <= 0 {
		ceiling = DefaultAggressiveQuality
	}
	if aggressive && quality > ceiling {
		return ceiling
	}
	return quality
}

type lossyEncoder interface {
	EncodeJPEG(img image.Image, quality int) ([]byte, error)
	EncodeWebP(img image.Image, quality int) ([]byte, error)
}

// Encoder dispatches a raster to the writer for one output format.
type Encoder struct {
	lossy lossyEncoder
	png   PNGOptimizer
}

type encodeFunc func(e *Encoder, ctx context.Context, img image.Image, quality int, aggressive bool) ([]byte, error)

var encoders = [...]encodeFunc{
	domain.FormatJPEG: (*Encoder).encodeJPEG,
	domain.FormatPNG:  (*Encoder).encodePNG,
	domain.FormatWebP: (*Encoder).encodeWebP,
	domain.FormatGIF:  (*Encoder).encodeGIF,
	domain.FormatBMP:  (*Encoder).encodeBMP,
	domain.FormatTIFF: (*Encoder).encodeTIFF,
}

// Adding a format to domain without an encoder entry fails to compile.
var _ [len(encoders) - domain.NumFormats]struct{}
var _ [domain.NumFormats - len(encoders)]struct{}

func NewEncoder(lossy lossyEncoder, png PNGOptimizer) *Encoder {
	return &Encoder{lossy: lossy, png: png}
}

// Encode writes img as format. quality is the effective quality; it is
// ignored by the container formats.
func (e *Encoder) Encode(ctx context.Context, img image.Image, format domain.Format, quality int, aggressive bool) ([]byte, error) {
	if format < 0 || int(format) >= len(encoders) {
		return nil, fmt.Errorf("%w: no encoder for format %d", domain.ErrEncodingFailure, format)
	}
	data, err := encoders[format](e, ctx, img, quality, aggressive)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrEncodingFailure, format, err)
	}
	return data, nil
}

func (e *Encoder) encodeJPEG(_ context.Context, img image.Image, quality int, _ bool) ([]byte, error) {
	return e.lossy.EncodeJPEG(discardAlpha(img), quality)
}

func (e *Encoder) encodeWebP(_ context.Context, img image.Image, quality int, _ bool) ([]byte, error) {
	return e.lossy.EncodeWebP(discardAlpha(img), quality)
}

func (e *Encoder) encodePNG(ctx context.Context, img image.Image, quality int, aggressive bool) ([]byte, error) {
	return e.png.Optimize(ctx, img, quality, aggressive)
}

func (e *Encoder) encodeGIF(_ context.Context, img image.Image, _ int, _ bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Encoder) encodeBMP(_ context.Context, img image.Image, _ int, _ bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Encoder) encodeTIFF(_ context.Context, img image.Image, _ int, _ bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// discardAlpha returns an opaque copy of img that keeps the stored colour of
// every pixel and drops its alpha. Already opaque images are returned as is.
func discardAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	src := imaging.Clone(img)
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xFF
	}
	return dst
}
