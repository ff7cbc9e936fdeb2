package pipeline

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpress/internal/domain"
)

// ApplyTransforms runs the requested stages in the fixed order resize,
// grayscale, corner mask. masked reports whether any alpha was written by the
// corner mask, which forces an alpha-capable output format. maxRasterBytes
// bounds the buffer a resize may allocate, as in Resize.
func ApplyTransforms(img image.Image, opts domain.TransformOptions, maxRasterBytes int64) (out image.Image, masked bool, err error) {
	out = img
	if opts.Resize != nil {
		out, err = Resize(out, *opts.Resize, maxRasterBytes)
		if err != nil {
			return nil, false, err
		}
	}
	if opts.BlackAndWhite {
		out = Grayscale(out)
	}
	if opts.BorderRadius > 0 {
		out = RoundCorners(out, opts.BorderRadius)
		masked = true
	}
	return out, masked, nil
}

// ResolveDimensions turns a partial target into concrete pixel dimensions,
// deriving the missing side from the source aspect ratio.
func ResolveDimensions(origW, origH int, spec domain.ResizeSpec) (int, int, error) {
	if origW <= 0 || origH <= 0 {
		return 0, 0, fmt.Errorf("%w: source is %dx%d", domain.ErrInvalidDimensions, origW, origH)
	}

	var targetW, targetH int
	switch {
	case spec.Width != nil && spec.Height != nil:
		targetW, targetH = *spec.Width, *spec.Height
	case spec.Width != nil:
		targetW = *spec.Width
		targetH = max(1, roundInt(float64(targetW)*float64(origH)/float64(origW)))
	case spec.Height != nil:
		targetH = *spec.Height
		targetW = max(1, roundInt(float64(targetH)*float64(origW)/float64(origH)))
	default:
		return 0, 0, fmt.Errorf("%w: resize requires w or h", domain.ErrInvalidParameter)
	}

	if targetW <= 0 || targetH <= 0 {
		return 0, 0, fmt.Errorf("%w: resolved target %dx%d", domain.ErrInvalidDimensions, targetW, targetH)
	}
	return targetW, targetH, nil
}

// Resize scales img per spec using a Lanczos filter. The intermediate raster
// is checked against maxRasterBytes before anything is allocated; a
// non-positive limit means DefaultMaxDecodedBytes.
func Resize(img image.Image, spec domain.ResizeSpec, maxRasterBytes int64) (image.Image, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	targetW, targetH, err := ResolveDimensions(origW, origH, spec)
	if err != nil {
		return nil, err
	}

	switch spec.Mode {
	case domain.ResizeForce:
		if err := checkRaster(targetW, targetH, maxRasterBytes); err != nil {
			return nil, err
		}
		return imaging.Resize(img, targetW, targetH, imaging.Lanczos), nil
	case domain.ResizeFill:
		scaledW, scaledH := fillDimensions(origW, origH, targetW, targetH)
		if err := checkRaster(scaledW, scaledH, maxRasterBytes); err != nil {
			return nil, err
		}
		resized := imaging.Resize(img, scaledW, scaledH, imaging.Lanczos)
		x := (scaledW - targetW) / 2
		y := (scaledH - targetH) / 2
		return imaging.Crop(resized, image.Rect(x, y, x+targetW, y+targetH)), nil
	default:
		w, h := fitDimensions(origW, origH, targetW, targetH)
		if err := checkRaster(w, h, maxRasterBytes); err != nil {
			return nil, err
		}
		return imaging.Resize(img, w, h, imaging.Lanczos), nil
	}
}

// checkRaster fails when a w x h NRGBA buffer would exceed limit bytes.
func checkRaster(w, h int, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxDecodedBytes
	}
	if int64(w) > limit/4/int64(h) {
		return fmt.Errorf("%w: resize to %dx%d exceeds the %d byte raster limit",
			domain.ErrInvalidDimensions, w, h, limit)
	}
	return nil
}

// fitDimensions returns the largest size with the source aspect ratio that
// fits inside the target box. The binding axis matches the box exactly.
func fitDimensions(origW, origH, boxW, boxH int) (int, int) {
	scaleW := float64(boxW) / float64(origW)
	scaleH := float64(boxH) / float64(origH)
	if scaleW <= scaleH {
		h := clamp(roundInt(float64(origH)*scaleW), 1, boxH)
		return boxW, h
	}
	w := clamp(roundInt(float64(origW)*scaleH), 1, boxW)
	return w, boxH
}

// fillDimensions returns the size the source is scaled to before the centre
// crop: it covers the target box on both axes.
func fillDimensions(origW, origH, targetW, targetH int) (int, int) {
	scale := math.Max(float64(targetW)/float64(origW), float64(targetH)/float64(origH))
	scaledW := max(targetW, roundInt(float64(origW)*scale))
	scaledH := max(targetH, roundInt(float64(origH)*scale))
	return scaledW, scaledH
}

// Grayscale replaces every pixel with its BT.601 luma, leaving alpha as is.
func Grayscale(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		r := float64(dst.Pix[i])
		g := float64(dst.Pix[i+1])
		b := float64(dst.Pix[i+2])
		l := uint8(math.Min(255, math.Round(0.299*r+0.587*g+0.114*b)))
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = l, l, l
	}
	return dst
}

// RoundCorners makes the pixels outside a quarter circle of the given radius
// fully transparent in all four corners. The radius is clamped to half of the
// shorter side. A pixel is outside when its centre lies beyond the circle,
// which in doubled integer coordinates is (2x-2r+1)^2 + (2y-2r+1)^2 > 4r^2.
//
// This intentionally differs from the offset form dx = x-r+1, dy = y-r+1,
// dx^2+dy^2 > r^2. That form leaves the extreme corner pixel opaque for
// small radii (r=3 gives 8 > 9 at (0,0)), so do not switch to it.
func RoundCorners(img image.Image, radius int) *image.NRGBA {
	dst := imaging.Clone(img)
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	r := min(radius, w/2, h/2)
	if r <= 0 {
		return dst
	}

	limit := 4 * r * r
	for y := 0; y < r; y++ {
		dy := 2*y - 2*r + 1
		for x := 0; x < r; x++ {
			dx := 2*x - 2*r + 1
			if dx*dx+dy*dy <= limit {
				continue
			}
			clearAlpha(dst, x, y)
			clearAlpha(dst, w-1-x, y)
			clearAlpha(dst, x, h-1-y)
			clearAlpha(dst, w-1-x, h-1-y)
		}
	}
	return dst
}

func clearAlpha(img *image.NRGBA, x, y int) {
	p := image.Pt(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	if !p.In(img.Rect) {
		return
	}
	img.Pix[img.PixOffset(p.X, p.Y)+3] = 0
}

// roundInt rounds v and saturates at the int32 range so oversized products
// stay positive.
func roundInt(v float64) int {
	v = math.Round(v)
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
