package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpdateMetadataMerges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(domain.User{ID: "u1", Email: "ana@example.com"})

	_, err := store.UpdateMetadata(ctx, "u1", domain.Metadata{"a": 1})
	require.NoError(t, err)
	_, err = store.UpdateMetadata(ctx, "u1", domain.Metadata{"b": 2})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{"a": 1, "b": 2}, u.Metadata)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(domain.User{ID: "u1", Metadata: domain.Metadata{"a": 1}})

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.Metadata["a"] = 99

	again, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Metadata["a"])
}

func TestMemoryStore_UnknownUser(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.UpdateMetadata(context.Background(), "missing", domain.Metadata{"a": 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

const clerkUserJSON = `{
  "object": "user",
  "id": "u1",
  "first_name": "Ana",
  "last_name": "Silva",
  "primary_email_address_id": "idn_2",
  "email_addresses": [
    {"id": "idn_1", "object": "email_address", "email_address": "old@example.com"},
    {"id": "idn_2", "object": "email_address", "email_address": "ana@example.com"}
  ],
  "public_metadata": {"isPremium": true, "stripeCustomerId": "cus_1"}
}`

func TestClerkStore_GetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/u1"), r.URL.Path)
		assert.Equal(t, "Bearer sk_test_clerk", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(clerkUserJSON))
	}))
	t.Cleanup(srv.Close)

	store := NewClerkStore("sk_test_clerk", srv.URL+"/v1", logger.NewNop())

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, "Ana Silva", u.FullName())
	assert.Equal(t, true, u.Metadata[domain.MetaIsPremium])
	assert.Equal(t, "cus_1", u.Metadata[domain.MetaStripeCustomerID])
}

func TestClerkStore_UpdateMetadataSendsPartial(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/u1/metadata"), r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(clerkUserJSON))
	}))
	t.Cleanup(srv.Close)

	store := NewClerkStore("sk_test_clerk", srv.URL+"/v1", logger.NewNop())

	_, err := store.UpdateMetadata(context.Background(), "u1", domain.Metadata{domain.MetaSubscriptionID: "sub_1"})
	require.NoError(t, err)
	require.Contains(t, body, "public_metadata")
	assert.JSONEq(t, `{"subscriptionId":"sub_1"}`, string(body["public_metadata"]))
}

func TestClerkStore_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"code":"resource_not_found","message":"not found","long_message":"User not found"}]}`))
	}))
	t.Cleanup(srv.Close)

	store := NewClerkStore("sk_test_clerk", srv.URL+"/v1", logger.NewNop())

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClerkStore_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"form_param_invalid","message":"metadata is too large"}]}`))
	}))
	t.Cleanup(srv.Close)

	store := NewClerkStore("sk_test_clerk", srv.URL+"/v1", logger.NewNop())

	_, err := store.UpdateMetadata(context.Background(), "u1", domain.Metadata{"a": 1})
	var ext *domain.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "clerk", ext.Service)
	assert.Equal(t, "metadata is too large", ext.Message)
}

// fakeCache кеш в памяти, который хранит JSON так же, как Redis.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("cache unavailable")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// countingStore считает обращения к провайдеру.
type countingStore struct {
	*MemoryStore
	mu    sync.Mutex
	reads int
}

func (s *countingStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.MemoryStore.GetUser(ctx, userID)
}

func (s *countingStore) Reload(ctx context.Context, userID string) (*domain.User, error) {
	return s.GetUser(ctx, userID)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{MemoryStore: NewMemoryStore(domain.User{ID: "u1", Metadata: domain.Metadata{"a": "x"}})}
	store := NewCachedStore(backend, newFakeCache(), time.Minute, logger.NewNop())

	for i := 0; i < 3; i++ {
		u, err := store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "x", u.Metadata["a"])
	}
	assert.Equal(t, 1, backend.reads)

	_, err := store.Reload(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.reads)
}

func TestCachedStore_UpdateRefreshesCache(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{MemoryStore: NewMemoryStore(domain.User{ID: "u1"})}
	store := NewCachedStore(backend, newFakeCache(), time.Minute, logger.NewNop())

	_, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)

	_, err = store.UpdateMetadata(ctx, "u1", domain.Metadata{"a": "1"})
	require.NoError(t, err)
	_, err = store.UpdateMetadata(ctx, "u1", domain.Metadata{"b": "2"})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{"a": "1", "b": "2"}, u.Metadata)
	assert.Equal(t, 1, backend.reads)
}

func TestCachedStore_CacheFailureFallsBackToProvider(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	cache.failSet = true
	backend := &countingStore{MemoryStore: NewMemoryStore(domain.User{ID: "u1"})}
	store := NewCachedStore(backend, cache, time.Minute, logger.NewNop())

	_, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	_, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.reads)
}
