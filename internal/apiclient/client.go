// Package apiclient HTTP-клиент REST API RunSheet для runsheetctl.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/res"
)

const defaultTimeout = 15 * time.Second

// Client обращается к /api/user-premium-status. Реализует poller.Resolver.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

// New создает клиент. token (сессионный JWT) может быть пустым, если AUTH_REQUIRED выключен.
func New(baseURL, token string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log,
	}
}

func (c *Client) Resolve(ctx context.Context, userID string) (*domain.Entitlement, error) {
	var ent domain.Entitlement
	if err := c.get(ctx, "/api/user-premium-status/"+url.PathEscape(userID), &ent); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, domain.NewNotFoundError("user", userID)
		}
		return nil, err
	}
	return &ent, nil
}

// APIError ответ сервера с кодом не 2xx
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is сопоставляет 401 и 403 с доменными ошибками
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case domain.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if response.StatusCode >= http.StatusBadRequest {
		var errResp res.ErrorResponse
		message := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		c.log.Debugw("API request failed", "path", path, "status", response.StatusCode, "error", message)
		return &APIError{StatusCode: response.StatusCode, Message: message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
