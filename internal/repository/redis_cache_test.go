package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCacheRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCacheRepository(mr.Addr(), "", 0, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestRedisCache_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedis(t)

	var dst map[string]string
	found, err := cache.GetJSON(ctx, "k", &dst)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.SetJSON(ctx, "k", map[string]string{"a": "1"}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	found, err = cache.GetJSON(ctx, "k", &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", dst["a"])

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestRedisCache_EventLedger(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedis(t)

	seen, err := cache.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.MarkProcessed(ctx, "evt_1"))

	seen, err = cache.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, WebhookEventTTL, mr.TTL(webhookEventKeyPrefix+"evt_1"))

	seen, err = cache.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)

	mr.FastForward(WebhookEventTTL + time.Second)
	seen, err = cache.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisCache_UnlockWithForeignTokenKeepsLock(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedis(t)

	token, ok, err := cache.TryLock(ctx, "entitlement:u1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cache.TryLock(ctx, "entitlement:u1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Unlock(ctx, "entitlement:u1", "someone-else"))
	held, err := mr.Get(lockKeyPrefix + "entitlement:u1")
	require.NoError(t, err)
	assert.Equal(t, token, held)

	require.NoError(t, cache.Unlock(ctx, "entitlement:u1", token))
	assert.False(t, mr.Exists(lockKeyPrefix+"entitlement:u1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	cache, mr := newTestRedis(t)
	locker := NewRedisLocker(cache, 2*time.Second, logger.NewNop())

	unlock, err := locker.Lock(context.Background(), "entitlement:u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "entitlement:u1")
	assert.Error(t, err)

	acquired := make(chan func(), 1)
	go func() {
		second, err := locker.Lock(context.Background(), "entitlement:u1")
		if err == nil {
			acquired <- second
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case second := <-acquired:
		second()
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over after release")
	}
	assert.False(t, mr.Exists(lockKeyPrefix+"entitlement:u1"))
}

func TestRedisLocker_DifferentKeysDoNotBlock(t *testing.T) {
	cache, _ := newTestRedis(t)
	locker := NewRedisLocker(cache, time.Second, logger.NewNop())

	first, err := locker.Lock(context.Background(), "entitlement:u1")
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	second, err := locker.Lock(ctx, "entitlement:u2")
	require.NoError(t, err)
	second()
}
