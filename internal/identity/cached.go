package identity

import (
	"context"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

const userKeyPrefix = "identity:user:"

// Cache JSON-кеш с TTL. Реализуется repository.RedisCacheRepository.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedStore read-through кеш пользователей поверх другого Store.
// Ошибки кеша логируются и не влияют на результат.
type CachedStore struct {
	next  Store
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedStore создает кеширующий Store
func NewCachedStore(next Store, cache Cache, ttl time.Duration, log *logger.Logger) *CachedStore {
	return &CachedStore{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   log,
	}
}

func (s *CachedStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var cached domain.User
	found, err := s.cache.GetJSON(ctx, userKeyPrefix+userID, &cached)
	if err != nil {
		s.log.Warnw("Failed to read user from cache", "userID", userID, "error", err)
	}
	if found {
		if cached.Metadata == nil {
			cached.Metadata = domain.Metadata{}
		}
		return &cached, nil
	}

	u, err := s.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, u)
	return u, nil
}

// Reload идет к провайдеру и обновляет кеш.
func (s *CachedStore) Reload(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.next.Reload(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, u)
	return u, nil
}

// UpdateMetadata пишет в провайдер и кладет результат в кеш. Если записать в кеш не удалось,
// ключ удаляется, чтобы не отдавать устаревшие метаданные.
func (s *CachedStore) UpdateMetadata(ctx context.Context, userID string, partial domain.Metadata) (*domain.User, error) {
	u, err := s.next.UpdateMetadata(ctx, userID, partial)
	if err != nil {
		if delErr := s.cache.Delete(ctx, userKeyPrefix+userID); delErr != nil {
			s.log.Warnw("Failed to invalidate cached user", "userID", userID, "error", delErr)
		}
		return nil, err
	}
	s.store(ctx, u)
	return u, nil
}

func (s *CachedStore) store(ctx context.Context, u *domain.User) {
	if err := s.cache.SetJSON(ctx, userKeyPrefix+u.ID, u, s.ttl); err != nil {
		s.log.Warnw("Failed to cache user", "userID", u.ID, "error", err)
		if delErr := s.cache.Delete(ctx, userKeyPrefix+u.ID); delErr != nil {
			s.log.Warnw("Failed to invalidate cached user", "userID", u.ID, "error", delErr)
		}
	}
}
