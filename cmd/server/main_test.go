package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/config"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsShortSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	require.Error(t, err)
}

func TestValidateSecurityConfigAcceptsLongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
}

func TestOpenRepositoryWithoutDatabaseIsSeededMemory(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-test-pass")
	t.Setenv("SEED_OWNER_PASSWORD", "owner-test-pass")

	repo, err := openRepository(context.Background(), config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.IsType(t, &memory.Store{}, repo)

	err = repo.View(context.Background(), func(r store.Reader) error {
		stores, err := r.ListStores(context.Background())
		if err != nil {
			return err
		}
		assert.Len(t, stores, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestOptionalBackendsDefaultToNoop(t *testing.T) {
	assert.Equal(t, cache.NoopStoreCache{}, openCache(context.Background(), config.Config{}, zerolog.Nop()))
	assert.Equal(t, events.Noop{}, openPublisher(config.Config{}, zerolog.Nop()))
}
