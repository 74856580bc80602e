package repository

import (
	"context"
	"sync"
)

// EventLedger журнал обработанных событий вебхука
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// MemoryEventLedger журнал в памяти, без TTL. Для тестов и локального запуска.
type MemoryEventLedger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryEventLedger создает журнал событий в памяти
func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{seen: make(map[string]struct{})}
}

func (l *MemoryEventLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[eventID]
	return ok, nil
}

func (l *MemoryEventLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = struct{}{}
	return nil
}
