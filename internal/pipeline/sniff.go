package pipeline

import (
	"bytes"
	"fmt"

	"github.com/dunamismax/pixelpress/internal/domain"
)

// minSniffLen is the shortest input the sniffer will look at.
const minSniffLen = 8

var (
	magicPNG   = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicJPEG  = []byte{0xFF, 0xD8, 0xFF}
	magicRIFF  = []byte("RIFF")
	magicWEBP  = []byte("WEBP")
	magicGIF87 = []byte("GIF87a")
	magicGIF89 = []byte("GIF89a")
	magicBMP   = []byte("BM")
	magicTIFFL = []byte{'I', 'I', 0x2A, 0x00}
	magicTIFFB = []byte{'M', 'M', 0x00, 0x2A}
	magicICO   = []byte{0x00, 0x00, 0x01, 0x00}
	magicFTYP  = []byte("ftyp")
)

// Sniff identifies the container format of data from its magic bytes alone.
// The returned tag is lowercase ("png", "jpeg", "webp", "gif", ...).
func Sniff(data []byte) (string, error) {
	if len(data) < minSniffLen {
		return "", fmt.Errorf("%w: need at least %d bytes, got %d", domain.ErrFormatUnknown, minSniffLen, len(data))
	}

	switch {
	case bytes.HasPrefix(data, magicPNG):
		return "png", nil
	case bytes.HasPrefix(data, magicJPEG):
		return "jpeg", nil
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return "webp", nil
	case bytes.HasPrefix(data, magicGIF87), bytes.HasPrefix(data, magicGIF89):
		return "gif", nil
	case bytes.HasPrefix(data, magicTIFFL), bytes.HasPrefix(data, magicTIFFB):
		return "tiff", nil
	case bytes.HasPrefix(data, magicICO):
		return "ico", nil
	case bytes.HasPrefix(data, magicBMP):
		return "bmp", nil
	}

	if len(data) >= 12 && bytes.Equal(data[4:8], magicFTYP) {
		switch string(data[8:12]) {
		case "avif", "avis":
			return "avif", nil
		case "heic", "heix", "mif1", "msf1":
			return "heic", nil
		}
	}

	return "", fmt.Errorf("%w: unrecognized signature % x", domain.ErrFormatUnknown, data[:minSniffLen])
}
