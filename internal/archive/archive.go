// Package archive keeps a content-addressed copy of optimized outputs in
// object storage.
package archive

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/storage"
)

// immutableCache is sent with every archived object.
const immutableCache = "public, max-age=31536000, immutable"

// ObjectStore is the subset of the storage client the archiver needs.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, obj storage.Object) error
}

type Archiver struct {
	store ObjectStore
}

func New(store ObjectStore) *Archiver {
	return &Archiver{store: store}
}

// ObjectKey names an output by the xxhash64 of its bytes, so identical
// outputs share one object.
func ObjectKey(res domain.CompressionResult) string {
	return fmt.Sprintf("outputs/%016x.%s", xxhash.Sum64(res.Data), res.OutputFormat)
}

// Store uploads res unless an object with the same key already exists. It
// returns the key and whether an upload happened.
func (a *Archiver) Store(ctx context.Context, requestID string, res domain.CompressionResult) (string, bool, error) {
	key := ObjectKey(res)

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return key, false, fmt.Errorf("check archived output: %w", err)
	}
	if exists {
		return key, false, nil
	}

	err = a.store.Put(ctx, storage.Object{
		Key:          key,
		Data:         res.Data,
		ContentType:  res.OutputFormat.ContentType(),
		CacheControl: immutableCache,
		Metadata: map[string]string{
			"request-id":      requestID,
			"original-format": res.OriginalFormat,
			"original-size":   strconv.Itoa(res.OriginalSize),
			"quality-used":    strconv.Itoa(res.QualityUsed),
			"dimensions":      fmt.Sprintf("%dx%d", res.Width, res.Height),
		},
	})
	if err != nil {
		return key, false, fmt.Errorf("archive output: %w", err)
	}
	return key, true, nil
}
