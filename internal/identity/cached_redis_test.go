package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCachedStore(t *testing.T, backend Store) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := repository.NewRedisCacheRepository(mr.Addr(), "", 0, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return NewCachedStore(backend, cache, time.Minute, logger.NewNop()), mr
}

func cachedUser(t *testing.T, mr *miniredis.Miniredis, userID string) domain.User {
	t.Helper()
	raw, err := mr.Get(userKeyPrefix + userID)
	require.NoError(t, err)
	var u domain.User
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestCachedStore_RedisReloadRefreshesEntry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore(domain.User{ID: "u1", Metadata: domain.Metadata{"a": "old"}})
	store, mr := newRedisCachedStore(t, backend)

	_, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "old", cachedUser(t, mr, "u1").Metadata["a"])
	assert.Equal(t, time.Minute, mr.TTL(userKeyPrefix+"u1"))

	// Изменение у провайдера мимо кеша.
	_, err = backend.UpdateMetadata(ctx, "u1", domain.Metadata{"a": "new"})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "old", u.Metadata["a"])

	u, err = store.Reload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", u.Metadata["a"])
	assert.Equal(t, "new", cachedUser(t, mr, "u1").Metadata["a"])

	u, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", u.Metadata["a"])
}

func TestCachedStore_RedisUpdateWritesThrough(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore(domain.User{ID: "u1"})
	store, mr := newRedisCachedStore(t, backend)

	_, err := store.UpdateMetadata(ctx, "u1", domain.Metadata{domain.MetaIsPremium: true})
	require.NoError(t, err)
	_, err = store.UpdateMetadata(ctx, "u1", domain.Metadata{domain.MetaSubscriptionID: "s1"})
	require.NoError(t, err)

	cached := cachedUser(t, mr, "u1")
	assert.Equal(t, true, cached.Metadata[domain.MetaIsPremium])
	assert.Equal(t, "s1", cached.Metadata[domain.MetaSubscriptionID])

	_, err = store.UpdateMetadata(ctx, "ghost", domain.Metadata{"a": "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(userKeyPrefix+"ghost"))
}
