// Package compose renders pipeline results as HTTP responses.
package compose

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelpress/internal/domain"
)

const (
	HeaderOriginalSize   = "X-Original-Size"
	HeaderOptimizedSize  = "X-Optimized-Size"
	HeaderOriginalFormat = "X-Original-Format"
	HeaderOutputFormat   = "X-Output-Format"
)

var exposedHeaders = strings.Join([]string{
	HeaderOriginalSize,
	HeaderOptimizedSize,
	HeaderOriginalFormat,
	HeaderOutputFormat,
	"ETag",
}, ", ")

// OptimizeResponse is the JSON body of the structured paths.
type OptimizeResponse struct {
	OptimizedImage   string  `json:"optimized_image"`
	OriginalSize     int     `json:"original_size"`
	OptimizedSize    int     `json:"optimized_size"`
	CompressionRatio float64 `json:"compression_ratio"`
	OriginalFormat   string  `json:"original_format"`
	OutputFormat     string  `json:"output_format"`
	QualityUsed      int     `json:"quality_used"`
}

type ErrorBody struct {
	Error string `json:"error"`
}

func Structured(res domain.CompressionResult) OptimizeResponse {
	return OptimizeResponse{
		OptimizedImage:   base64.StdEncoding.EncodeToString(res.Data),
		OriginalSize:     res.OriginalSize,
		OptimizedSize:    res.OptimizedSize,
		CompressionRatio: res.CompressionRatio,
		OriginalFormat:   res.OriginalFormat,
		OutputFormat:     res.OutputFormat.String(),
		QualityUsed:      res.QualityUsed,
	}
}

// Binary is a raw image response: the optimized bytes plus metadata headers.
type Binary struct {
	Header http.Header
	Body   []byte
}

func NewBinary(res domain.CompressionResult) Binary {
	h := make(http.Header)
	h.Set("Content-Type", res.OutputFormat.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set(HeaderOriginalSize, strconv.Itoa(res.OriginalSize))
	h.Set(HeaderOptimizedSize, strconv.Itoa(res.OptimizedSize))
	h.Set(HeaderOriginalFormat, res.OriginalFormat)
	h.Set(HeaderOutputFormat, res.OutputFormat.String())
	h.Set("ETag", ETag(res.Data))
	h.Set("Access-Control-Expose-Headers", exposedHeaders)
	return Binary{Header: h, Body: res.Data}
}

// Write copies the headers to w and sends the body with status 200.
func (b Binary) Write(w http.ResponseWriter) error {
	for key, values := range b.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(b.Body)
	return err
}

// ETag is a strong validator derived from the xxhash64 of data.
func ETag(data []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
}
