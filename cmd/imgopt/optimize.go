package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/compose"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type optimizeFlags struct {
	output     string
	quality    int
	format     string
	aggressive bool
	bw         bool
	radius     int
	width      int
	height     int
	mode       string
	jsonOut    bool
	maxSize    int
	timeout    time.Duration
	widthSet   bool
	heightSet  bool
}

var optFlags optimizeFlags

var optimizeCmd = &cobra.Command{
	Use:   "optimize <input>",
	Short: "Optimize one image file",
	Long: `Optimize sniffs the input, applies the requested transforms and writes
the re-encoded image next to the input unless -o is given.

Examples:
  imgopt optimize photo.png
  imgopt optimize photo.png -f webp -q 70
  imgopt optimize banner.jpg -W 800 -t fill --br 12 -o banner.png`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVarP(&optFlags.output, "output", "o", "", "output path (default <input>.min.<format>)")
	f.IntVarP(&optFlags.quality, "quality", "q", 85, "encoding quality 1-100")
	f.StringVarP(&optFlags.format, "format", "f", "", "output format: jpeg, png, webp, gif, bmp, tiff (default jpeg)")
	f.BoolVar(&optFlags.aggressive, "aggressive", false, "cap quality and spend extra effort on PNG")
	f.BoolVar(&optFlags.bw, "bw", false, "convert to grayscale")
	f.IntVar(&optFlags.radius, "br", 0, "corner radius in pixels")
	f.IntVarP(&optFlags.width, "width", "W", 0, "target width")
	f.IntVarP(&optFlags.height, "height", "H", 0, "target height")
	f.StringVarP(&optFlags.mode, "mode", "t", "fit", "resize mode: fit, fill, force")
	f.BoolVar(&optFlags.jsonOut, "json", false, "print the result as JSON")
	f.IntVar(&optFlags.maxSize, "max-size", pipeline.DefaultMaxImageBytes, "largest accepted input in bytes")
	f.DurationVar(&optFlags.timeout, "timeout", 30*time.Second, "give up after this long")

	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	optFlags.widthSet = cmd.Flags().Changed("width")
	optFlags.heightSet = cmd.Flags().Changed("height")

	opts, err := optFlags.transformOptions()
	if err != nil {
		return err
	}

	input := args[0]
	raw, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}
	logVerbose("read input=%s size=%s", input, humanize.Bytes(uint64(len(raw))))

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("image runtime startup: %w", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewProcessor(pipeline.Config{MaxImageBytes: optFlags.maxSize})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), optFlags.timeout)
	defer cancel()

	start := time.Now()
	res, err := processor.Process(ctx, raw, opts)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	output := optFlags.output
	if output == "" {
		output = defaultOutputPath(input, res.OutputFormat)
	}
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	logVerbose("wrote output=%s duration=%s", output, elapsed.Round(time.Millisecond))

	report := newReport(input, output, res, elapsed)
	if optFlags.jsonOut {
		return writeReportJSON(cmd.OutOrStdout(), report)
	}
	return writeReportText(cmd.OutOrStdout(), report)
}

// transformOptions validates the flag set and turns it into pipeline
// options. Width and height only count when they were set explicitly.
func (f optimizeFlags) transformOptions() (domain.TransformOptions, error) {
	format, err := domain.ParseFormat(f.format)
	if err != nil {
		return domain.TransformOptions{}, err
	}

	opts := domain.TransformOptions{
		Quality:       f.quality,
		Aggressive:    f.aggressive,
		BlackAndWhite: f.bw,
		BorderRadius:  f.radius,
		OutputFormat:  format,
	}

	if f.widthSet || f.heightSet {
		mode, err := domain.ParseResizeMode(f.mode)
		if err != nil {
			return domain.TransformOptions{}, err
		}
		spec := &domain.ResizeSpec{Mode: mode}
		if f.widthSet {
			w := f.width
			spec.Width = &w
		}
		if f.heightSet {
			h := f.height
			spec.Height = &h
		}
		opts.Resize = spec
	}

	if err := opts.Validate(); err != nil {
		return domain.TransformOptions{}, err
	}
	return opts, nil
}

func defaultOutputPath(input string, format domain.Format) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".min." + format.String()
}

type report struct {
	Input            string  `json:"input"`
	Output           string  `json:"output"`
	OriginalFormat   string  `json:"original_format"`
	OutputFormat     string  `json:"output_format"`
	OriginalSize     int     `json:"original_size"`
	OptimizedSize    int     `json:"optimized_size"`
	CompressionRatio float64 `json:"compression_ratio"`
	QualityUsed      int     `json:"quality_used"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	ETag             string  `json:"etag"`
	DurationMS       int64   `json:"duration_ms"`
}

func newReport(input, output string, res domain.CompressionResult, elapsed time.Duration) report {
	return report{
		Input:            input,
		Output:           output,
		OriginalFormat:   res.OriginalFormat,
		OutputFormat:     res.OutputFormat.String(),
		OriginalSize:     res.OriginalSize,
		OptimizedSize:    res.OptimizedSize,
		CompressionRatio: res.CompressionRatio,
		QualityUsed:      res.QualityUsed,
		Width:            res.Width,
		Height:           res.Height,
		ETag:             compose.ETag(res.Data),
		DurationMS:       elapsed.Milliseconds(),
	}
}

func writeReportJSON(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeReportText(w io.Writer, r report) error {
	_, err := fmt.Fprintf(w, `
  Input:        %s (%s, %s)
  Output:       %s (%s, %s)
  Dimensions:   %dx%d
  Quality:      %d
  Saved:        %.1f%%
  Took:         %dms

`,
		r.Input, r.OriginalFormat, humanize.Bytes(uint64(r.OriginalSize)),
		r.Output, r.OutputFormat, humanize.Bytes(uint64(r.OptimizedSize)),
		r.Width, r.Height,
		r.QualityUsed,
		r.CompressionRatio,
		r.DurationMS,
	)
	return err
}
