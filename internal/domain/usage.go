package domain

import "time"

type UsageLog struct {
	RequestID       string
	Route           string
	OriginalFormat  string
	OutputFormat    string
	OriginalBytes   int64
	OptimizedBytes  int64
	BytesSaved      int64
	PixelsProcessed int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

// NewUsageLog derives the accounting record for one successful request.
func NewUsageLog(requestID, route string, res CompressionResult, computeTimeMS int64, now time.Time) UsageLog {
	saved := int64(res.OriginalSize - res.OptimizedSize)
	if saved < 0 {
		saved = 0
	}
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}
	return UsageLog{
		RequestID:       requestID,
		Route:           route,
		OriginalFormat:  res.OriginalFormat,
		OutputFormat:    res.OutputFormat.String(),
		OriginalBytes:   int64(res.OriginalSize),
		OptimizedBytes:  int64(res.OptimizedSize),
		BytesSaved:      saved,
		PixelsProcessed: int64(res.Width) * int64(res.Height),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       now.UTC(),
	}
}

// UsageSummary aggregates usage logs.
type UsageSummary struct {
	Requests        int64 `json:"requests"`
	OriginalBytes   int64 `json:"original_bytes"`
	OptimizedBytes  int64 `json:"optimized_bytes"`
	BytesSaved      int64 `json:"bytes_saved"`
	PixelsProcessed int64 `json:"pixels_processed"`
	ComputeTimeMS   int64 `json:"compute_time_ms"`
}

func (s *UsageSummary) Add(log UsageLog) {
	s.Requests++
	s.OriginalBytes += log.OriginalBytes
	s.OptimizedBytes += log.OptimizedBytes
	s.BytesSaved += log.BytesSaved
	s.PixelsProcessed += log.PixelsProcessed
	s.ComputeTimeMS += log.ComputeTimeMS
}
