package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxImageBytes = 50 << 20

type Config struct {
	MaxImageBytes      int
	MaxDecodedBytes    int64
	AggressiveQuality  int
	PNGOptimizeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxImageBytes:      DefaultMaxImageBytes,
		MaxDecodedBytes:    DefaultMaxDecodedBytes,
		AggressiveQuality:  DefaultAggressiveQuality,
		PNGOptimizeTimeout: DefaultPNGOptimizeTimeout,
	}
}

// Processor runs sniff, decode, transform and encode for one request at a
// time. It holds no per-request state and is safe for concurrent use.
type Processor struct {
	cfg     Config
	encoder *Encoder
	tracer  trace.Tracer
}

func NewProcessor(cfg Config) (*Processor, error) {
	defaults := DefaultConfig()
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaults.MaxImageBytes
	}
	if cfg.MaxDecodedBytes <= 0 {
		cfg.MaxDecodedBytes = defaults.MaxDecodedBytes
	}
	if cfg.AggressiveQuality <= 0 || cfg.AggressiveQuality > 100 {
		cfg.AggressiveQuality = defaults.AggressiveQuality
	}
	if cfg.PNGOptimizeTimeout <= 0 {
		cfg.PNGOptimizeTimeout = defaults.PNGOptimizeTimeout
	}

	lossy, err := newLossyEncoder()
	if err != nil {
		return nil, fmt.Errorf("build lossy encoder: %w", err)
	}

	return &Processor{
		cfg: cfg,
		encoder: NewEncoder(lossy, PNGOptimizer{
			Timeout:           cfg.PNGOptimizeTimeout,
			MaxDecodedBytes:   cfg.MaxDecodedBytes,
			AggressiveCeiling: cfg.AggressiveQuality,
		}),
		tracer: otel.Tracer("pixelpress/pipeline"),
	}, nil
}

func (p *Processor) Config() Config {
	return p.cfg
}

// Process turns raw into an optimized image per opts. Every failure wraps
// one of the domain error kinds and nothing partial is returned.
func (p *Processor) Process(ctx context.Context, raw []byte, opts domain.TransformOptions) (domain.CompressionResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	res, err := p.process(ctx, span, raw, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindOf(err))
		return domain.CompressionResult{}, err
	}
	span.SetAttributes(
		attribute.String("image.output_format", res.OutputFormat.String()),
		attribute.Int("image.optimized_bytes", res.OptimizedSize),
		attribute.Int("image.quality_used", res.QualityUsed),
	)
	span.SetStatus(codes.Ok, "optimized")
	return res, nil
}

func (p *Processor) process(ctx context.Context, span trace.Span, raw []byte, opts domain.TransformOptions) (domain.CompressionResult, error) {
	if err := opts.Validate(); err != nil {
		return domain.CompressionResult{}, err
	}
	if len(raw) > p.cfg.MaxImageBytes {
		return domain.CompressionResult{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrPayloadTooLarge, len(raw), p.cfg.MaxImageBytes)
	}
	span.SetAttributes(attribute.Int("image.original_bytes", len(raw)))

	originalFormat, err := Sniff(raw)
	if err != nil {
		return domain.CompressionResult{}, err
	}
	span.SetAttributes(attribute.String("image.original_format", originalFormat))

	if err := ctx.Err(); err != nil {
		return domain.CompressionResult{}, err
	}
	img, err := Decode(raw, p.cfg.MaxDecodedBytes)
	if err != nil {
		return domain.CompressionResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return domain.CompressionResult{}, err
	}
	img, masked, err := ApplyTransforms(img, opts, p.cfg.MaxDecodedBytes)
	if err != nil {
		return domain.CompressionResult{}, err
	}

	format := ResolveOutputFormat(opts.OutputFormat, originalFormat)
	if masked && !format.SupportsAlpha() {
		format = domain.FormatPNG
	}
	quality := EffectiveQuality(opts.Quality, opts.Aggressive, p.cfg.AggressiveQuality)

	data, err := p.encode(ctx, img, format, quality, opts.Aggressive)
	if err != nil {
		return domain.CompressionResult{}, err
	}

	bounds := img.Bounds()
	return domain.CompressionResult{
		Data:             data,
		OriginalSize:     len(raw),
		OptimizedSize:    len(data),
		CompressionRatio: domain.CompressionRatio(len(raw), len(data)),
		OriginalFormat:   originalFormat,
		OutputFormat:     format,
		QualityUsed:      quality,
		Width:            bounds.Dx(),
		Height:           bounds.Dy(),
	}, nil
}

func (p *Processor) encode(ctx context.Context, img image.Image, format domain.Format, quality int, aggressive bool) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.encode", trace.WithAttributes(
		attribute.String("image.output_format", format.String()),
		attribute.Int("image.quality", quality),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.encoder.Encode(ctx, img, format, quality, aggressive)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return nil, err
	}
	return data, nil
}
