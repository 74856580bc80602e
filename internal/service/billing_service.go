package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/stripe"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

const (
	successPath = "/payment-success"
	cancelPath  = "/payment-canceled"

	// placeholderCustomerID фронтенд присылает его, когда пользователь еще не вошел.
	placeholderCustomerID = "user_123"
)

// CheckoutInput параметры создания Checkout Session
type CheckoutInput struct {
	PriceID    string
	UserID     string
	CustomerID string
	SuccessURL string
	CancelURL  string
	Origin     string
}

// SubscriptionStatusResult ответ /subscription-status
type SubscriptionStatusResult struct {
	Active       bool                 `json:"active"`
	Subscription *domain.Subscription `json:"subscription"`
}

// BillingService операции с подписками, которые REST-слой пробрасывает в Stripe.
type BillingService struct {
	users       identity.Store
	billing     stripe.Client
	customers   *CustomerLinker
	writer      *EntitlementWriter
	frontendURL string
	fallback    time.Duration
	log         *logger.Logger
}

// NewBillingService создает BillingService. frontendURL используется, когда нет заголовка Origin.
func NewBillingService(
	users identity.Store,
	billing stripe.Client,
	customers *CustomerLinker,
	writer *EntitlementWriter,
	frontendURL string,
	fallback time.Duration,
	log *logger.Logger,
) *BillingService {
	return &BillingService{
		users:       users,
		billing:     billing,
		customers:   customers,
		writer:      writer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		fallback:    fallback,
		log:         log,
	}
}

// CreateCheckout создает Checkout Session. С UserID клиент Stripe находится или создается
// один раз, а clerkUserId попадает в метаданные сессии и подписки.
func (s *BillingService) CreateCheckout(ctx context.Context, in CheckoutInput) (*domain.CheckoutSession, error) {
	if in.PriceID == "" {
		return nil, domain.NewValidationError("priceId", "priceId is required, check STRIPE_PRICE_ID")
	}
	if !strings.HasPrefix(in.PriceID, "price_") {
		s.log.Warnw("Price ID does not look like a Stripe price", "priceId", in.PriceID)
	}

	params := domain.CheckoutParams{
		PriceID:    in.PriceID,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
	}
	base := s.baseURL(in.Origin)
	if params.SuccessURL == "" {
		params.SuccessURL = base + successPath
	}
	if params.CancelURL == "" {
		params.CancelURL = base + cancelPath
	}
	if in.CustomerID != "" && in.CustomerID != placeholderCustomerID {
		params.CustomerID = in.CustomerID
	}

	if in.UserID != "" {
		user, err := s.users.GetUser(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		customerID, err := s.customers.Ensure(ctx, user)
		if err != nil {
			return nil, err
		}
		params.CustomerID = customerID
		params.Metadata = map[string]string{domain.MetaClerkUserID: in.UserID}
	}

	session, err := s.billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Checkout session created", "sessionID", session.ID, "userID", in.UserID, "customerID", params.CustomerID)

	if in.UserID != "" {
		customerID := params.CustomerID
		if _, err := s.writer.Apply(ctx, in.UserID, "checkout_started", time.Time{}, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
			return rec.WithCheckoutStarted(customerID)
		}); err != nil {
			s.log.Warnw("Failed to mark checkout as pending", "userID", in.UserID, "error", err)
		}
	}
	return session, nil
}

// CreateTestCheckout создает сессию на тестовую цену для /test-checkout.
func (s *BillingService) CreateTestCheckout(ctx context.Context, origin string) (*domain.CheckoutSession, error) {
	base := s.baseURL(origin)
	return s.billing.CreateTestCheckoutSession(ctx, base+successPath, base+cancelPath)
}

// SubscriptionStatus ищет активную подписку. ref либо ID пользователя Clerk, либо ID клиента Stripe (cus_...).
func (s *BillingService) SubscriptionStatus(ctx context.Context, ref string) (*SubscriptionStatusResult, error) {
	customerID := ref
	if !strings.HasPrefix(ref, "cus_") {
		user, err := s.users.GetUser(ctx, ref)
		if err != nil {
			return nil, err
		}
		customerID, err = s.customers.Lookup(ctx, user)
		if errors.Is(err, domain.ErrNotFound) {
			return &SubscriptionStatusResult{}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	subs, err := s.billing.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &SubscriptionStatusResult{}, nil
	}
	return &SubscriptionStatusResult{Active: true, Subscription: &subs[0]}, nil
}

// CancelSubscription отменяет подписку в Stripe. Если у подписки есть clerkUserId,
// запись о доступе обновляется сразу, не дожидаясь вебхука.
func (s *BillingService) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if subscriptionID == "" {
		return nil, domain.NewValidationError("subscriptionId", "subscriptionId is required")
	}

	sub, err := s.billing.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Subscription canceled", "subscriptionID", sub.ID, "status", sub.Status)

	if userID := sub.Metadata[domain.MetaClerkUserID]; userID != "" {
		periodEnd := sub.PeriodEndOr(time.Now(), s.fallback)
		if _, err := s.writer.Apply(ctx, userID, "subscription_canceled", time.Time{}, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
			return rec.WithSubscription(*sub, periodEnd)
		}); err != nil {
			s.log.Warnw("Failed to update entitlement after cancel", "userID", userID, "subscriptionID", sub.ID, "error", err)
		}
	}
	return sub, nil
}

// EnsureCustomer возвращает ID клиента Stripe пользователя, создавая его при необходимости.
func (s *BillingService) EnsureCustomer(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", domain.NewValidationError("userId", "userId is required")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.customers.Ensure(ctx, user)
}

func (s *BillingService) baseURL(origin string) string {
	if origin != "" {
		return strings.TrimRight(origin, "/")
	}
	return s.frontendURL
}

// SubscriptionOwner возвращает clerkUserId подписки: из ее метаданных,
// а если их нет, из back-reference клиента Stripe.
func (s *BillingService) SubscriptionOwner(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := s.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if userID := sub.Metadata[domain.MetaClerkUserID]; userID != "" {
		return userID, nil
	}
	if sub.CustomerID == "" {
		return "", nil
	}
	return s.CustomerOwner(ctx, sub.CustomerID)
}

// CustomerOwner возвращает clerkUserId из метаданных клиента Stripe; пустая строка, если его нет.
func (s *BillingService) CustomerOwner(ctx context.Context, customerID string) (string, error) {
	customer, err := s.billing.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	return customer.UserID(), nil
}
