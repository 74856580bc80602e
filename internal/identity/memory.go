package identity

import (
	"context"
	"sync"

	"github.com/Dhoini/runsheet-api/internal/domain"
)

// MemoryStore хранит пользователей в памяти. Используется в тестах и локальной разработке без Clerk.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryStore создает хранилище с переданными пользователями.
func NewMemoryStore(users ...domain.User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]*domain.User, len(users))}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put добавляет или заменяет пользователя.
func (s *MemoryStore) Put(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Metadata = u.Metadata.Clone()
	s.users[u.ID] = &u
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.NewNotFoundError("user", userID)
	}
	return copyUser(u), nil
}

func (s *MemoryStore) Reload(ctx context.Context, userID string) (*domain.User, error) {
	return s.GetUser(ctx, userID)
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, userID string, partial domain.Metadata) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.NewNotFoundError("user", userID)
	}
	u.Metadata = u.Metadata.Merge(partial)
	return copyUser(u), nil
}

func copyUser(u *domain.User) *domain.User {
	out := *u
	out.Metadata = u.Metadata.Clone()
	return &out
}
