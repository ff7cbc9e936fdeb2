package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/pixelpress/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	route TEXT NOT NULL,
	original_format TEXT NOT NULL,
	output_format TEXT NOT NULL,
	original_bytes BIGINT NOT NULL,
	optimized_bytes BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL CHECK (bytes_saved >= 0),
	pixels_processed BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL CHECK (compute_time_ms >= 1),
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_logs_created_at_idx ON usage_logs (created_at);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) Record(ctx context.Context, log domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (request_id, route, original_format, output_format, original_bytes,
		 optimized_bytes, bytes_saved, pixels_processed, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.RequestID,
		log.Route,
		log.OriginalFormat,
		log.OutputFormat,
		log.OriginalBytes,
		log.OptimizedBytes,
		log.BytesSaved,
		log.PixelsProcessed,
		log.ComputeTimeMS,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Summary(ctx context.Context) (domain.UsageSummary, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(original_bytes), 0),
		        COALESCE(SUM(optimized_bytes), 0),
		        COALESCE(SUM(bytes_saved), 0),
		        COALESCE(SUM(pixels_processed), 0),
		        COALESCE(SUM(compute_time_ms), 0)
		 FROM usage_logs`,
	)

	var summary domain.UsageSummary
	if err := row.Scan(
		&summary.Requests,
		&summary.OriginalBytes,
		&summary.OptimizedBytes,
		&summary.BytesSaved,
		&summary.PixelsProcessed,
		&summary.ComputeTimeMS,
	); err != nil {
		return domain.UsageSummary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return summary, nil
}
