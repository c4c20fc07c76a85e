package cache

import (
	"context"
	"time"

	"storefront/backend/internal/domain"
)

// StoreCache holds Store records keyed by id. Misses return (nil, false, nil).
type StoreCache interface {
	Get(ctx context.Context, id string) (*domain.Store, bool, error)
	Set(ctx context.Context, value *domain.Store, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type NoopStoreCache struct{}

func (NoopStoreCache) Get(_ context.Context, _ string) (*domain.Store, bool, error) {
	return nil, false, nil
}

func (NoopStoreCache) Set(_ context.Context, _ *domain.Store, _ time.Duration) error {
	return nil
}

func (NoopStoreCache) Delete(_ context.Context, _ string) error {
	return nil
}

func storeKey(id string) string {
	return "storefront:store:" + id
}
