package store

import (
	"context"

	"github.com/dunamismax/pixelpress/internal/domain"
)

// UsageStore persists one accounting record per successful transform.
type UsageStore interface {
	Record(ctx context.Context, log domain.UsageLog) error
	Summary(ctx context.Context) (domain.UsageSummary, error)
}
