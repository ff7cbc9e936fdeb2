package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff <file>",
	Short: "Identify an image's container format from its magic bytes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	return printSniff(cmd.OutOrStdout(), args[0], data)
}

func printSniff(w io.Writer, name string, data []byte) error {
	format, err := pipeline.Sniff(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: %s (%s)\n", name, format, humanize.Bytes(uint64(len(data))))
	return err
}
