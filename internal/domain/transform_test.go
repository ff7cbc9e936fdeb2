package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"jpeg": FormatJPEG,
		"JPG":  FormatJPEG,
		"png":  FormatPNG,
		"webp": FormatWebP,
		"gif":  FormatGIF,
		"bmp":  FormatBMP,
		"tiff": FormatTIFF,
	}
	for raw, want := range cases {
		got, err := ParseFormat(raw)
		if err != nil {
			t.Fatalf("ParseFormat(%q) returned error: %v", raw, err)
		}
		if got == nil || *got != want {
			t.Fatalf("ParseFormat(%q) = %v, want %s", raw, got, want)
		}
	}

	for _, raw := range []string{"", "auto", "AUTO"} {
		got, err := ParseFormat(raw)
		if err != nil || got != nil {
			t.Fatalf("ParseFormat(%q) = %v, %v; want nil, nil", raw, got, err)
		}
	}

	if _, err := ParseFormat("avif"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for avif, got %v", err)
	}
}

func TestFormatStringCoversEveryFormat(t *testing.T) {
	for f := Format(0); int(f) < NumFormats; f++ {
		if f.String() == "unknown" {
			t.Fatalf("format %d has no name", f)
		}
		parsed, err := ParseFormat(f.String())
		if err != nil || *parsed != f {
			t.Fatalf("format %s does not parse back: %v", f, err)
		}
		if f.ContentType() == "application/octet-stream" {
			t.Fatalf("format %s has no content type", f)
		}
	}
	if FormatJPEG.SupportsAlpha() {
		t.Fatal("jpeg must not report alpha support")
	}
	if !FormatPNG.SupportsAlpha() {
		t.Fatal("png must report alpha support")
	}
}

func TestParseResizeMode(t *testing.T) {
	for raw, want := range map[string]ResizeMode{"": ResizeFit, "fit": ResizeFit, "FILL": ResizeFill, "force": ResizeForce} {
		got, err := ParseResizeMode(raw)
		if err != nil {
			t.Fatalf("ParseResizeMode(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseResizeMode(%q) = %s, want %s", raw, got, want)
		}
	}
	if _, err := ParseResizeMode("stretch"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestTransformOptionsValidate(t *testing.T) {
	valid := TransformOptions{Quality: 85}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid options, got %v", err)
	}

	for _, q := range []int{0, 101} {
		if err := (TransformOptions{Quality: q}).Validate(); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("quality %d: expected ErrInvalidParameter, got %v", q, err)
		}
	}

	missingDims := TransformOptions{Quality: 85, Resize: &ResizeSpec{Mode: ResizeFit}}
	if err := missingDims.Validate(); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for resize without dimensions, got %v", err)
	}
}

func TestCompressionRatio(t *testing.T) {
	if got := CompressionRatio(200, 50); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
	if got := CompressionRatio(100, 150); got != -50 {
		t.Fatalf("expected -50, got %v", got)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("decode: %w", fmt.Errorf("%w: truncated", ErrUnsupportedFormat))
	if got := KindOf(err); got != "unsupported_format" {
		t.Fatalf("expected unsupported_format, got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != "internal" {
		t.Fatalf("expected internal, got %s", got)
	}
	if IsRequestError(errors.New("boom")) {
		t.Fatal("plain errors are not request errors")
	}
	if !IsRequestError(ErrPayloadTooLarge) {
		t.Fatal("ErrPayloadTooLarge is a request error")
	}
}

func TestNewUsageLogClamps(t *testing.T) {
	log := NewUsageLog("req-1", "/optimize", CompressionResult{
		OriginalSize:  100,
		OptimizedSize: 180,
		OutputFormat:  FormatPNG,
		Width:         10,
		Height:        20,
	}, 0, time.Now())

	if log.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", log.BytesSaved)
	}
	if log.ComputeTimeMS != 1 {
		t.Fatalf("expected compute_time_ms=1, got %d", log.ComputeTimeMS)
	}
	if log.PixelsProcessed != 200 {
		t.Fatalf("expected pixels_processed=200, got %d", log.PixelsProcessed)
	}
	if log.OutputFormat != "png" {
		t.Fatalf("expected output format png, got %s", log.OutputFormat)
	}
}
