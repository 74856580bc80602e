package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/internal/stripe"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// Результаты обработки события для метрик
const (
	webhookApplied   = "applied"
	webhookIgnored   = "ignored"
	webhookDuplicate = "duplicate"
	webhookFailed    = "failed"
)

// EventVerifier проверяет подпись вебхука. Реализуется stripe.WebhookVerifier.
type EventVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (*domain.BillingEvent, error)
}

// WebhookService применяет события Stripe к записи о доступе.
type WebhookService struct {
	verifier EventVerifier
	billing  stripe.Client
	writer   *EntitlementWriter
	ledger   repository.EventLedger
	fallback time.Duration
	metrics  metrics.EntitlementMetrics
	log      *logger.Logger
}

// NewWebhookService создает новый сервис для работы с вебхуками
func NewWebhookService(
	verifier EventVerifier,
	billing stripe.Client,
	writer *EntitlementWriter,
	ledger repository.EventLedger,
	fallback time.Duration,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		billing:  billing,
		writer:   writer,
		ledger:   ledger,
		fallback: fallback,
		metrics:  m,
		log:      log,
	}
}

// HandleWebhook проверяет подпись и применяет событие.
// Ошибка подписи совместима с domain.ErrSignatureInvalid и ничего не меняет.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		s.log.Warnw("Rejected webhook event", "error", err)
		return err
	}
	return s.Apply(ctx, event)
}

// Apply применяет уже проверенное событие. Повторная доставка того же события
// подтверждается без повторного применения.
func (s *WebhookService) Apply(ctx context.Context, event *domain.BillingEvent) error {
	log := s.log.With("eventID", event.ID, "eventType", event.Type)

	if event.ID != "" {
		seen, err := s.ledger.Seen(ctx, event.ID)
		if err != nil {
			log.Warnw("Failed to check webhook event ledger", "error", err)
		}
		if seen {
			s.metrics.IncWebhookEvent(event.Type, webhookDuplicate)
			log.Infow("Webhook event already processed")
			return nil
		}
	}

	var (
		handled bool
		err     error
	)
	switch event.Type {
	case domain.EventCheckoutSessionCompleted:
		handled, err = s.handleCheckoutCompleted(ctx, log, event)
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		handled, err = s.handleSubscriptionChanged(ctx, log, event)
	case domain.EventSubscriptionDeleted:
		handled, err = s.handleSubscriptionDeleted(ctx, log, event)
	default:
		log.Debugw("Ignoring webhook event type")
	}

	if err != nil {
		s.metrics.IncWebhookEvent(event.Type, webhookFailed)
		log.Errorw("Failed to apply webhook event", "error", err)
		return err
	}

	if event.ID != "" {
		if err := s.ledger.MarkProcessed(ctx, event.ID); err != nil {
			log.Warnw("Failed to record processed webhook event", "error", err)
		}
	}
	if handled {
		s.metrics.IncWebhookEvent(event.Type, webhookApplied)
	} else {
		s.metrics.IncWebhookEvent(event.Type, webhookIgnored)
	}
	return nil
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, log *logger.Logger, event *domain.BillingEvent) (bool, error) {
	cs := event.CheckoutSession
	if cs == nil {
		return false, fmt.Errorf("%w: checkout session payload missing", domain.ErrInvalidInput)
	}
	userID := cs.UserID()
	if userID == "" || cs.CustomerID == "" || cs.SubscriptionID == "" {
		log.Warnw("Checkout session is missing user, customer or subscription, ignoring",
			"sessionID", cs.ID,
			"userID", userID,
			"customerID", cs.CustomerID,
			"subscriptionID", cs.SubscriptionID,
		)
		return false, nil
	}

	return s.apply(ctx, log, userID, event, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
		return rec.WithCheckoutCompleted(cs.CustomerID, cs.SubscriptionID)
	})
}

func (s *WebhookService) handleSubscriptionChanged(ctx context.Context, log *logger.Logger, event *domain.BillingEvent) (bool, error) {
	sub := event.Subscription
	if sub == nil {
		return false, fmt.Errorf("%w: subscription payload missing", domain.ErrInvalidInput)
	}
	userID, err := s.ownerOf(ctx, sub)
	if err != nil {
		return false, err
	}
	if userID == "" {
		log.Warnw("Customer has no clerkUserId back-reference, ignoring", "customerID", sub.CustomerID, "subscriptionID", sub.ID)
		return false, nil
	}

	// Запасной конец периода считается от времени события, чтобы повторная доставка дала ту же запись.
	periodEnd := sub.PeriodEndOr(event.Created, s.fallback)
	return s.apply(ctx, log, userID, event, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
		return rec.WithSubscription(*sub, periodEnd)
	})
}

func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, log *logger.Logger, event *domain.BillingEvent) (bool, error) {
	sub := event.Subscription
	if sub == nil {
		return false, fmt.Errorf("%w: subscription payload missing", domain.ErrInvalidInput)
	}
	userID, err := s.ownerOf(ctx, sub)
	if err != nil {
		return false, err
	}
	if userID == "" {
		log.Warnw("Customer has no clerkUserId back-reference, ignoring", "customerID", sub.CustomerID, "subscriptionID", sub.ID)
		return false, nil
	}

	return s.apply(ctx, log, userID, event, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
		return rec.WithSubscriptionDeleted()
	})
}

// ownerOf находит пользователя по back-reference в метаданных клиента Stripe.
// Если у клиента его нет, используется clerkUserId из метаданных подписки.
func (s *WebhookService) ownerOf(ctx context.Context, sub *domain.Subscription) (string, error) {
	if sub.CustomerID == "" {
		return sub.Metadata[domain.MetaClerkUserID], nil
	}
	customer, err := s.billing.GetCustomer(ctx, sub.CustomerID)
	if isNotFound(err) {
		return sub.Metadata[domain.MetaClerkUserID], nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load customer %s: %w", sub.CustomerID, err)
	}
	if id := customer.UserID(); id != "" {
		return id, nil
	}
	return sub.Metadata[domain.MetaClerkUserID], nil
}

// apply пишет запись; событие для удаленного пользователя подтверждается, чтобы Stripe не слал его бесконечно.
func (s *WebhookService) apply(ctx context.Context, log *logger.Logger, userID string, event *domain.BillingEvent, mutate Mutation) (bool, error) {
	_, err := s.writer.Apply(ctx, userID, string(event.Type), event.Created, mutate)
	if isNotFound(err) {
		log.Warnw("Webhook event references unknown user, ignoring", "userID", userID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
