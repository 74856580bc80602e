package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	webhookEventKeyPrefix = "webhook:event:"
	lockKeyPrefix         = "lock:"

	// WebhookEventTTL сколько помнить обработанные события. Stripe повторяет доставку до 3 суток.
	WebhookEventTTL = 72 * time.Hour
)

// unlockScript удаляет ключ блокировки, только если он все еще наш.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCacheRepository кеш, журнал вебхуков и блокировки поверх Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Ping проверяет соединение; используется health-чеком.
func (r *RedisCacheRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// GetJSON читает значение и разбирает его в dst. false, если ключа нет.
func (r *RedisCacheRepository) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.Debugw("Cache miss", "key", key)
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		r.log.Errorw("Failed to unmarshal cached value", "error", err, "key", key)
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// SetJSON сохраняет значение в JSON с TTL
func (r *RedisCacheRepository) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ из кеша
func (r *RedisCacheRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from cache: %w", key, err)
	}
	return nil
}

// Seen проверяет, обрабатывалось ли событие вебхука с таким ID.
func (r *RedisCacheRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, webhookEventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed запоминает ID обработанного события на WebhookEventTTL.
func (r *RedisCacheRepository) MarkProcessed(ctx context.Context, eventID string) error {
	if err := r.client.Set(ctx, webhookEventKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), WebhookEventTTL).Err(); err != nil {
		return fmt.Errorf("failed to record webhook event %s: %w", eventID, err)
	}
	return nil
}

// TryLock пытается взять блокировку SET NX PX. Возвращает токен владельца.
func (r *RedisCacheRepository) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return token, ok, nil
}

// Unlock снимает блокировку, если токен совпадает.
func (r *RedisCacheRepository) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, r.client, []string{lockKeyPrefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
