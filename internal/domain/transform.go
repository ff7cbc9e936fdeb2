package domain

import (
	"fmt"
	"strings"
)

// Format is an output format the encoder dispatcher can produce.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
	FormatWebP
	FormatGIF
	FormatBMP
	FormatTIFF

	NumFormats = iota
)

var formatNames = [...]string{
	FormatJPEG: "jpeg",
	FormatPNG:  "png",
	FormatWebP: "webp",
	FormatGIF:  "gif",
	FormatBMP:  "bmp",
	FormatTIFF: "tiff",
}

// Every format needs a name.
var _ [len(formatNames) - NumFormats]struct{}
var _ [NumFormats - len(formatNames)]struct{}

const FormatAuto = "auto"

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "unknown"
	}
	return formatNames[f]
}

// SupportsAlpha reports whether the container can carry a transparency mask.
func (f Format) SupportsAlpha() bool {
	return f != FormatJPEG
}

// Lossy reports whether the quality setting controls visual fidelity.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat resolves an output format token. The empty string and "auto"
// yield nil, which means the dispatcher picks the format.
func ParseFormat(raw string) (*Format, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" || token == FormatAuto {
		return nil, nil
	}
	if token == "jpg" {
		token = "jpeg"
	}
	for i, name := range formatNames {
		if name == token {
			f := Format(i)
			return &f, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported output format %q (jpeg, png, webp, gif, bmp, tiff)", ErrInvalidParameter, raw)
}

type ResizeMode int

const (
	ResizeFit ResizeMode = iota
	ResizeFill
	ResizeForce
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeFill:
		return "fill"
	case ResizeForce:
		return "force"
	default:
		return "fit"
	}
}

// ParseResizeMode maps t=fit|fill|force. Empty means fit.
func ParseResizeMode(raw string) (ResizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fit":
		return ResizeFit, nil
	case "fill":
		return ResizeFill, nil
	case "force":
		return ResizeForce, nil
	default:
		return ResizeFit, fmt.Errorf("%w: resize mode %q (fit, fill, force)", ErrInvalidParameter, raw)
	}
}

// ResizeSpec holds optional target dimensions. A nil pointer means the
// dimension was not supplied.
type ResizeSpec struct {
	Width  *int
	Height *int
	Mode   ResizeMode
}

func (s ResizeSpec) Validate() error {
	if s.Width == nil && s.Height == nil {
		return fmt.Errorf("%w: resize requires w or h", ErrInvalidParameter)
	}
	if (s.Width != nil && *s.Width < 0) || (s.Height != nil && *s.Height < 0) {
		return fmt.Errorf("%w: resize dimensions must not be negative", ErrInvalidParameter)
	}
	return nil
}

type TransformOptions struct {
	Quality       int
	Aggressive    bool
	BlackAndWhite bool
	BorderRadius  int
	Resize        *ResizeSpec
	OutputFormat  *Format
}

func (o TransformOptions) Validate() error {
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 1 and 100, got %d", ErrInvalidParameter, o.Quality)
	}
	if o.BorderRadius < 0 {
		return fmt.Errorf("%w: border radius must not be negative", ErrInvalidParameter)
	}
	if o.Resize != nil {
		if err := o.Resize.Validate(); err != nil {
			return err
		}
	}
	if o.OutputFormat != nil && (*o.OutputFormat < 0 || int(*o.OutputFormat) >= NumFormats) {
		return fmt.Errorf("%w: unknown output format", ErrInvalidParameter)
	}
	return nil
}

type CompressionResult struct {
	Data             []byte
	OriginalSize     int
	OptimizedSize    int
	CompressionRatio float64
	OriginalFormat   string
	OutputFormat     Format
	QualityUsed      int
	Width            int
	Height           int
}

// CompressionRatio is the percentage reduction from original to optimized.
// It is negative when the output grew.
func CompressionRatio(original, optimized int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-optimized) / float64(original) * 100
}
