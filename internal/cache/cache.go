package cache

import (
	"context"
	"time"

	"fitpos/backend/internal/domain"
)

// ProductCache sits in front of product lookups on the hot scan path.
// Misses are not errors; a broken cache degrades to direct reads.
type ProductCache interface {
	Get(ctx context.Context, key string) (*domain.Product, bool, error)
	Set(ctx context.Context, key string, value *domain.Product, ttl time.Duration) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}
