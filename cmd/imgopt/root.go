package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	verbose bool
)

var logger = log.New(os.Stderr, "[imgopt] ", log.Lmsgprefix)

var rootCmd = &cobra.Command{
	Use:   "imgopt",
	Short: "Optimize and transform images locally",
	Long: `imgopt runs the pixelpress pipeline against local files.

It applies the same sniffing, resizing, grayscale, rounded corners and
re-encoding the HTTP service does, without a server.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SetVersionTemplate(versionString() + "\n")
}

func versionString() string {
	return fmt.Sprintf("imgopt %s (%s/%s, %s, %s encoder)",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(), pipeline.Backend)
}

// logVerbose prints only when --verbose is set.
func logVerbose(format string, args ...any) {
	if verbose {
		logger.Printf(format, args...)
	}
}
