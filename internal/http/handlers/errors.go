// Package handlers HTTP-обработчики gin для REST API RunSheet.
package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// writeError единственное место, где ошибка сервиса превращается в HTTP-ответ.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	var (
		validation domain.ValidationErrors
		external   *domain.ExternalServiceError
		status     int
		body       res.ErrorResponse
	)

	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body = res.ErrorResponse{Error: validation.Error(), Details: []domain.ValidationError(validation)}
	case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrWebhookSecretMissing):
		status = http.StatusBadRequest
		body = res.ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		body = res.ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		status = http.StatusServiceUnavailable
		body = res.ErrorResponse{Error: "Billing provider is temporarily unavailable"}
	case errors.As(err, &external):
		status = http.StatusInternalServerError
		body = res.ErrorResponse{Error: external.Message}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body = res.ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrDuplicate):
		status = http.StatusConflict
		body = res.ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
		body = res.ErrorResponse{Error: "Authentication required"}
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		body = res.ErrorResponse{Error: "Access to another user's data is forbidden"}
	default:
		status = http.StatusInternalServerError
		body = res.ErrorResponse{Error: "Internal server error"}
	}

	body.ErrorCode = status
	_ = c.Error(err)
	res.JsonErrorResponse(c.Writer, body, status, log.With("path", c.FullPath(), "cause", err.Error()))
	c.Abort()
}
