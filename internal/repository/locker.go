package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Locker блокировка по ключу. Возвращенная функция снимает блокировку.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// MemoryLocker блокировки внутри одного процесса
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker создает блокировки в памяти
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

// Lock ждет освобождения ключа или отмены ctx.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RedisLocker распределенная блокировка через RedisCacheRepository
type RedisLocker struct {
	cache *RedisCacheRepository
	ttl   time.Duration
	log   *logger.Logger
}

// NewRedisLocker создает распределенную блокировку. ttl ограничивает время удержания,
// если процесс упадет, не сняв блокировку.
func NewRedisLocker(cache *RedisCacheRepository, ttl time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{cache: cache, ttl: ttl, log: log}
}

// Lock повторяет SET NX с экспоненциальной задержкой, пока ключ занят.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.ttl

	var token string
	err := backoff.Retry(func() error {
		t, ok, err := l.cache.TryLock(ctx, key, l.ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("lock %s is busy", key)
		}
		token = t
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return func() {
		// Снимаем блокировку даже если контекст запроса уже отменен.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.cache.Unlock(unlockCtx, key, token); err != nil {
			l.log.Warnw("Failed to release lock", "key", key, "error", err)
		}
	}, nil
}
