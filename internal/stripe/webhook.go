package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookVerifier проверяет подпись вебхука и разбирает событие.
type WebhookVerifier struct {
	secret        string
	allowUnsigned bool
	log           *logger.Logger
}

// NewWebhookVerifier создает верификатор. allowUnsigned включает режим разработки:
// без секрета события принимаются как доверенный JSON с предупреждением в логе.
func NewWebhookVerifier(secret string, allowUnsigned bool, log *logger.Logger) *WebhookVerifier {
	if secret == "" {
		if allowUnsigned {
			log.Warnw("Stripe webhook secret is not configured: unsigned webhook events will be accepted (development only)")
		} else {
			log.Errorw("Stripe webhook secret is not configured: all webhook events will be rejected")
		}
	}
	return &WebhookVerifier{
		secret:        secret,
		allowUnsigned: allowUnsigned,
		log:           log,
	}
}

// VerifyAndParse проверяет подпись и возвращает доменное событие.
// Ошибки подписи совместимы с domain.ErrSignatureInvalid.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (*domain.BillingEvent, error) {
	var (
		event    stripe.Event
		verified bool
	)

	switch {
	case v.secret != "":
		if signatureHeader == "" {
			return nil, fmt.Errorf("%w: missing Stripe-Signature header", domain.ErrSignatureInvalid)
		}
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
		}
		verified = true
	case v.allowUnsigned:
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("%w: malformed event payload: %v", domain.ErrInvalidInput, err)
		}
		v.log.Warnw("Accepting unsigned webhook event", "eventID", event.ID, "eventType", string(event.Type))
	default:
		return nil, domain.ErrWebhookSecretMissing
	}

	return parseEvent(event, verified)
}

// parseEvent раскладывает data.object в типизированный объект по типу события.
func parseEvent(event stripe.Event, verified bool) (*domain.BillingEvent, error) {
	out := &domain.BillingEvent{
		ID:       event.ID,
		Type:     domain.EventType(event.Type),
		Verified: verified,
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case domain.EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: malformed checkout session: %v", domain.ErrInvalidInput, err)
		}
		out.CheckoutSession = toDomainCheckoutSession(&session)
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: malformed subscription: %v", domain.ErrInvalidInput, err)
		}
		s := toDomainSubscription(&sub)
		out.Subscription = &s
	}
	return out, nil
}
