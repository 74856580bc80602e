package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"
)

const clerkService = "clerk"

// ClerkStore реализует Store поверх Clerk Backend API.
type ClerkStore struct {
	users *user.Client
	log   *logger.Logger
}

// NewClerkStore создает клиент Clerk. apiURL пустой для production API.
func NewClerkStore(secretKey, apiURL string, log *logger.Logger) *ClerkStore {
	cfg := &clerk.ClientConfig{}
	cfg.Key = clerk.String(secretKey)
	if apiURL != "" {
		cfg.URL = clerk.String(apiURL)
	}
	return &ClerkStore{
		users: user.NewClient(cfg),
		log:   log,
	}
}

// GetUser читает пользователя из Clerk.
func (s *ClerkStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, s.wrapError("get_user", userID, err)
	}
	return toDomainUser(u)
}

// Reload у Clerk нет локального кеша, поэтому совпадает с GetUser.
func (s *ClerkStore) Reload(ctx context.Context, userID string) (*domain.User, error) {
	return s.GetUser(ctx, userID)
}

// UpdateMetadata отправляет partial в PATCH /users/{id}/metadata: Clerk сам сливает ключи
// верхнего уровня с существующими, null удаляет ключ.
func (s *ClerkStore) UpdateMetadata(ctx context.Context, userID string, partial domain.Metadata) (*domain.User, error) {
	raw, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("clerk: failed to marshal metadata: %w", err)
	}
	public := json.RawMessage(raw)

	u, err := s.users.UpdateMetadata(ctx, userID, &user.UpdateMetadataParams{
		PublicMetadata: &public,
	})
	if err != nil {
		return nil, s.wrapError("update_metadata", userID, err)
	}

	s.log.Debugw("Clerk user metadata updated", "userID", userID, "keys", len(partial))
	return toDomainUser(u)
}

func (s *ClerkStore) wrapError(operation, userID string, err error) error {
	var apiErr *clerk.APIErrorResponse
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			return domain.NewNotFoundError("user", userID)
		}
		code, message := operation, apiErr.Error()
		if len(apiErr.Errors) > 0 {
			code, message = apiErr.Errors[0].Code, apiErr.Errors[0].Message
		}
		s.log.Errorw("Clerk API error",
			"operation", operation,
			"userID", userID,
			"status_code", apiErr.HTTPStatusCode,
			"trace_id", apiErr.TraceID,
			"message", message,
		)
		return domain.NewExternalServiceError(clerkService, code, message, apiErr.HTTPStatusCode, err)
	}

	s.log.Errorw("Clerk request failed", "operation", operation, "userID", userID, "error", err)
	return domain.NewExternalServiceError(clerkService, operation, err.Error(), http.StatusBadGateway, err)
}

// toDomainUser выбирает основной email и разбирает public_metadata.
func toDomainUser(u *clerk.User) (*domain.User, error) {
	out := &domain.User{
		ID:       u.ID,
		Metadata: domain.Metadata{},
	}
	if u.FirstName != nil {
		out.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		out.LastName = *u.LastName
	}
	for _, e := range u.EmailAddresses {
		if e == nil {
			continue
		}
		if out.Email == "" || (u.PrimaryEmailAddressID != nil && e.ID == *u.PrimaryEmailAddressID) {
			out.Email = e.EmailAddress
		}
	}
	if len(u.PublicMetadata) > 0 && string(u.PublicMetadata) != "null" {
		if err := json.Unmarshal(u.PublicMetadata, &out.Metadata); err != nil {
			return nil, fmt.Errorf("clerk: malformed public metadata for user %s: %w", u.ID, err)
		}
	}
	return out, nil
}
