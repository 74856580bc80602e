package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// fakeBilling Stripe в памяти, считает вызовы.
type fakeBilling struct {
	mu        sync.Mutex
	customers map[string]*domain.Customer
	subs      map[string][]domain.Subscription
	listErr   error

	createdCustomers int
	listCalls        int
	checkouts        []domain.CheckoutParams
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		customers: map[string]*domain.Customer{},
		subs:      map[string][]domain.Subscription{},
	}
}

func (f *fakeBilling) addCustomer(id, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta := map[string]string{}
	if userID != "" {
		meta[domain.MetaClerkUserID] = userID
	}
	f.customers[id] = &domain.Customer{ID: id, Metadata: meta}
}

func (f *fakeBilling) setActive(customerID string, subs ...domain.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[customerID] = subs
}

func (f *fakeBilling) CreateCustomer(_ context.Context, p domain.CustomerParams) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdCustomers++
	c := &domain.Customer{
		ID:       fmt.Sprintf("cus_%d", f.createdCustomers),
		Email:    p.Email,
		Name:     p.Name,
		Metadata: map[string]string{domain.MetaClerkUserID: p.UserID},
	}
	f.customers[c.ID] = c
	return c, nil
}

func (f *fakeBilling) FindCustomerByUserID(_ context.Context, userID string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.UserID() == userID {
			return c, nil
		}
	}
	return nil, domain.NewNotFoundError("customer", userID)
}

func (f *fakeBilling) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[customerID]
	if !ok {
		return nil, domain.NewNotFoundError("customer", customerID)
	}
	return c, nil
}

func (f *fakeBilling) ListActiveSubscriptions(_ context.Context, customerID string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs[customerID], nil
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, p domain.CheckoutParams) (*domain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, p)
	id := fmt.Sprintf("cs_%d", len(f.checkouts))
	return &domain.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/" + id, CustomerID: p.CustomerID, Metadata: p.Metadata}, nil
}

func (f *fakeBilling) CreateTestCheckoutSession(_ context.Context, successURL, cancelURL string) (*domain.CheckoutSession, error) {
	return &domain.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (f *fakeBilling) GetSubscription(_ context.Context, subscriptionID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.subs {
		for _, s := range subs {
			if s.ID == subscriptionID {
				return &s, nil
			}
		}
	}
	return nil, domain.NewExternalServiceError("stripe", "resource_missing", "No such subscription", 404, nil)
}

func (f *fakeBilling) CancelSubscription(_ context.Context, subscriptionID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for customerID, subs := range f.subs {
		for _, s := range subs {
			if s.ID == subscriptionID {
				s.Status = domain.SubscriptionStatusCanceled
				delete(f.subs, customerID)
				return &s, nil
			}
		}
	}
	return nil, domain.NewExternalServiceError("stripe", "resource_missing", "No such subscription", 404, nil)
}

func (f *fakeBilling) calls() (created, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdCustomers, f.listCalls
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EntitlementChanged
}

func (p *recordingPublisher) PublishEntitlementChanged(_ context.Context, e domain.EntitlementChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) all() []domain.EntitlementChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EntitlementChanged(nil), p.events...)
}

// countingUsers считает записи метаданных.
type countingUsers struct {
	*identity.MemoryStore
	mu     sync.Mutex
	writes int
}

func (u *countingUsers) UpdateMetadata(ctx context.Context, userID string, partial domain.Metadata) (*domain.User, error) {
	u.mu.Lock()
	u.writes++
	u.mu.Unlock()
	return u.MemoryStore.UpdateMetadata(ctx, userID, partial)
}

func (u *countingUsers) writeCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writes
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// harness собирает сервисы поверх фейков.
type harness struct {
	users     *countingUsers
	billing   *fakeBilling
	publisher *recordingPublisher
	writer    *EntitlementWriter
	linker    *CustomerLinker
	resolver  *EntitlementService
	billingSv *BillingService
	webhooks  *WebhookService
}

func newHarness(users ...domain.User) *harness {
	log := logger.NewNop()
	m := metrics.NewNoopMetrics()
	locker := repository.NewMemoryLocker()

	h := &harness{
		users:     &countingUsers{MemoryStore: identity.NewMemoryStore(users...)},
		billing:   newFakeBilling(),
		publisher: &recordingPublisher{},
	}
	h.writer = NewEntitlementWriter(h.users, locker, h.publisher, m, log)
	h.writer.now = func() time.Time { return fixedNow }
	h.writer.retryBase = time.Millisecond

	h.linker = NewCustomerLinker(h.users, h.billing, h.writer, locker, log)
	h.resolver = NewEntitlementService(h.users, h.billing, h.linker, h.writer, 30*24*time.Hour, m, log)
	h.resolver.now = func() time.Time { return fixedNow }
	h.billingSv = NewBillingService(h.users, h.billing, h.linker, h.writer, "http://localhost:5173", 30*24*time.Hour, log)
	h.webhooks = NewWebhookService(nil, h.billing, h.writer, repository.NewMemoryEventLedger(), 30*24*time.Hour, m, log)
	return h
}

func (h *harness) metadata(userID string) domain.Metadata {
	u, err := h.users.GetUser(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return u.Metadata
}

func timePtr(t time.Time) *time.Time {
	return &t
}
