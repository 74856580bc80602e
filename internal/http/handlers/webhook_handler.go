package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
)

// maxRequestBodySize ограничение тела вебхука (Stripe рекомендует ~65kb)
const maxRequestBodySize = int64(65536)

// WebhookProcessor проверяет и применяет событие Stripe. Реализуется service.WebhookService.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	processor WebhookProcessor
	log       *logger.Logger
}

func NewWebhookHandler(processor WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, log: log}
}

// HandleStripeWebhook читает сырое тело один раз: подпись считается по байтам как есть.
// Ошибка подписи дает 400, ошибка применения 500, чтобы Stripe повторил доставку.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body", ErrorCode: http.StatusBadRequest}, http.StatusBadRequest)
		c.Abort()
		return
	}

	err = h.processor.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		res.JsonResponse(c.Writer, gin.H{"received": true}, http.StatusOK)
	case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrWebhookSecretMissing), errors.Is(err, domain.ErrInvalidInput):
		writeError(c, h.log, err)
	default:
		h.log.Errorw("Error processing webhook event", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{
			Error:     "Internal server error processing webhook",
			ErrorCode: http.StatusInternalServerError,
		}, http.StatusInternalServerError)
		c.Abort()
	}
}
