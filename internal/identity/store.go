// Package identity хранит пользователей identity-провайдера и их публичные метаданные.
package identity

import (
	"context"

	"github.com/Dhoini/runsheet-api/internal/domain"
)

// Store доступ к пользователям и их метаданным.
//
// UpdateMetadata всегда сливает partial с существующими метаданными;
// полная замена метаданных не поддерживается. Запись last-write-wins,
// токена конкурентности у провайдера нет.
type Store interface {
	// GetUser возвращает пользователя; может отдать закешированную копию.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// Reload читает пользователя у провайдера в обход кеша.
	Reload(ctx context.Context, userID string) (*domain.User, error)

	// UpdateMetadata сливает partial с метаданными пользователя и возвращает результат.
	UpdateMetadata(ctx context.Context, userID string, partial domain.Metadata) (*domain.User, error)
}
