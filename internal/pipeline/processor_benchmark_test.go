package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/pixelpress/internal/domain"
)

func BenchmarkProcessorResizeJPEG(b *testing.B) {
	source := encodeTestPNG(b, buildTestImage(1920, 1080))
	processor := benchmarkProcessor(b)
	opts := domain.TransformOptions{
		Quality: 82,
		Resize:  &domain.ResizeSpec{Width: intPtr(640), Mode: domain.ResizeFit},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), source, opts); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorRoundedPNG(b *testing.B) {
	source := encodeTestPNG(b, buildTestImage(800, 600))
	processor := benchmarkProcessor(b)
	png := domain.FormatPNG
	opts := domain.TransformOptions{
		Quality:       85,
		BlackAndWhite: true,
		BorderRadius:  24,
		OutputFormat:  &png,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), source, opts); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func benchmarkProcessor(b *testing.B) *Processor {
	b.Helper()

	processor, err := NewProcessor(DefaultConfig())
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}
	return processor
}
