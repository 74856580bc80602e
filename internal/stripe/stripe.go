package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const serviceName = "stripe"

// Client определяет методы для взаимодействия со Stripe API.
// Каждый вызов выполняется один раз, без автоматических повторов.
type Client interface {
	// CreateCustomer создает клиента с back-reference на пользователя в метаданных.
	CreateCustomer(ctx context.Context, params domain.CustomerParams) (*domain.Customer, error)

	// FindCustomerByUserID ищет клиента по back-reference через Search API.
	// Если клиента нет, возвращает ошибку, совместимую с domain.ErrNotFound.
	FindCustomerByUserID(ctx context.Context, userID string) (*domain.Customer, error)

	// GetCustomer возвращает клиента по его Stripe ID.
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	// ListActiveSubscriptions возвращает не более одной активной подписки клиента.
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error)

	// CreateCheckoutSession создает сессию оплаты подписки.
	CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutSession, error)

	// CreateTestCheckoutSession создает сессию с inline price_data для проверки интеграции.
	CreateTestCheckoutSession(ctx context.Context, successURL, cancelURL string) (*domain.CheckoutSession, error)

	// GetSubscription возвращает подписку по ее Stripe ID.
	GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error)

	// CancelSubscription отменяет подписку немедленно.
	CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
}

// Option настраивает stripeClient.
type Option func(*options)

type options struct {
	backendURL     string
	httpClient     *http.Client
	metrics        metrics.EntitlementMetrics
	breakerTimeout time.Duration
	breakerTrip    uint32
}

// WithBackendURL направляет запросы на другой адрес (stripe-mock, httptest).
func WithBackendURL(url string) Option {
	return func(o *options) { o.backendURL = url }
}

// WithHTTPClient задает HTTP клиент для запросов к Stripe.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics включает метрики длительности вызовов.
func WithMetrics(m metrics.EntitlementMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCircuitBreaker задает порог последовательных ошибок и время, на которое открывается breaker.
func WithCircuitBreaker(consecutiveFailures uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.breakerTrip = consecutiveFailures
		o.breakerTimeout = openTimeout
	}
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client  *client.API
	breaker *gobreaker.CircuitBreaker[any]
	metrics metrics.EntitlementMetrics
	log     *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey string, log *logger.Logger, opts ...Option) Client {
	o := options{
		metrics:        metrics.NewNoopMetrics(),
		breakerTimeout: 30 * time.Second,
		breakerTrip:    5,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		LeveledLogger:     &leveledLogger{log: log},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if o.backendURL != "" {
		cfg.URL = stripe.String(o.backendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	sc := &client.API{}
	sc.Init(apiKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     o.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.breakerTrip
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Stripe circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &stripeClient{
		client:  sc,
		breaker: breaker,
		metrics: o.metrics,
		log:     log,
	}
}

// CreateCustomer создает нового клиента в Stripe.
func (sc *stripeClient) CreateCustomer(ctx context.Context, in domain.CustomerParams) (*domain.Customer, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			domain.MetaClerkUserID: in.UserID,
		},
	}
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	params.Context = ctx

	cus, err := execute(sc, "create_customer", func() (*stripe.Customer, error) {
		return sc.client.Customers.New(params)
	})
	if err != nil {
		return nil, err
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", in.UserID)
	return toDomainCustomer(cus), nil
}

// searchEscaper экранирует значение внутри кавычек языка запросов Search API.
var searchEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// FindCustomerByUserID ищет клиента по метаданным через Search API.
func (sc *stripeClient) FindCustomerByUserID(ctx context.Context, userID string) (*domain.Customer, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", domain.MetaClerkUserID, searchEscaper.Replace(userID)),
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	cus, err := execute(sc, "search_customer", func() (*stripe.Customer, error) {
		iter := sc.client.Customers.Search(searchParams)
		if iter.Next() {
			return iter.Customer(), nil
		}
		return nil, iter.Err()
	})
	if err != nil {
		return nil, err
	}
	if cus == nil {
		return nil, domain.NewNotFoundError("stripe customer", userID)
	}

	sc.log.Debugw("Found existing Stripe customer via Search", "stripeCustomerID", cus.ID, "userID", userID)
	return toDomainCustomer(cus), nil
}

// GetCustomer возвращает клиента по ID.
func (sc *stripeClient) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cus, err := execute(sc, "get_customer", func() (*stripe.Customer, error) {
		return sc.client.Customers.Get(customerID, params)
	})
	if err != nil {
		return nil, err
	}
	if cus.Deleted {
		return nil, domain.NewNotFoundError("stripe customer", customerID)
	}
	return toDomainCustomer(cus), nil
}

// ListActiveSubscriptions возвращает активные подписки клиента (limit 1).
func (sc *stripeClient) ListActiveSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
		ListParams: stripe.ListParams{
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	subs, err := execute(sc, "list_subscriptions", func() ([]domain.Subscription, error) {
		iter := sc.client.Subscriptions.List(params)
		var out []domain.Subscription
		if iter.Next() {
			out = append(out, toDomainSubscription(iter.Subscription()))
		}
		return out, iter.Err()
	})
	if err != nil {
		return nil, err
	}

	sc.log.Debugw("Listed active subscriptions", "stripeCustomerID", customerID, "count", len(subs))
	return subs, nil
}

// CreateCheckoutSession создает Checkout Session в режиме subscription.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, in domain.CheckoutParams) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if len(in.Metadata) > 0 {
		params.Metadata = in.Metadata
		// Метаданные копируются в подписку, чтобы события customer.subscription.* их тоже несли
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		}
	}
	params.Context = ctx

	session, err := execute(sc, "create_checkout_session", func() (*stripe.CheckoutSession, error) {
		return sc.client.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "priceID", in.PriceID, "stripeCustomerID", in.CustomerID)
	return toDomainCheckoutSession(session), nil
}

// CreateTestCheckoutSession создает сессию с фиксированной тестовой ценой.
func (sc *stripeClient) CreateTestCheckoutSession(ctx context.Context, successURL, cancelURL string) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("brl"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("RunSheet Premium (Teste)"),
					},
					UnitAmount: stripe.Int64(2990),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx

	session, err := execute(sc, "create_test_checkout_session", func() (*stripe.CheckoutSession, error) {
		return sc.client.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	return toDomainCheckoutSession(session), nil
}

// GetSubscription возвращает подписку по ID.
func (sc *stripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := execute(sc, "get_subscription", func() (*stripe.Subscription, error) {
		return sc.client.Subscriptions.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	out := toDomainSubscription(sub)
	return &out, nil
}

// CancelSubscription отменяет подписку в Stripe немедленно.
func (sc *stripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}

	sub, err := execute(sc, "cancel_subscription", func() (*stripe.Subscription, error) {
		return sc.client.Subscriptions.Cancel(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	sc.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", subscriptionID)
	out := toDomainSubscription(sub)
	return &out, nil
}

// execute выполняет вызов через circuit breaker, пишет метрику и приводит ошибку к доменной.
func execute[T any](sc *stripeClient, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := sc.breaker.Execute(func() (any, error) {
		return fn()
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	sc.metrics.ObserveBillingCall(operation, result, time.Since(start))

	if err != nil {
		var zero T
		logStripeError(sc.log, operation, err)
		return zero, wrapError(err)
	}
	return out.(T), nil
}

// isBreakerSuccess не считает ошибки клиента (4xx кроме 429) сбоями Stripe.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 400 &&
			stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests
	}
	return false
}

// wrapError превращает ошибку SDK в domain.ExternalServiceError с сообщением провайдера.
func wrapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewExternalServiceError(serviceName, "circuit_open",
			"billing provider temporarily unavailable", http.StatusServiceUnavailable, domain.ErrExternalServiceUnavailable)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return domain.NewExternalServiceError(serviceName, string(stripeErr.Code), stripeErr.Msg, stripeErr.HTTPStatusCode, err)
	}
	return domain.NewExternalServiceError(serviceName, "unknown", err.Error(), http.StatusBadGateway, err)
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
		return
	}
	log.Errorw("Non-Stripe error during Stripe operation",
		"operation", operation,
		"error", err,
	)
}
