package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/internal/stripe"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// CustomerLinker находит или создает клиента Stripe для пользователя, не больше одного на пользователя.
type CustomerLinker struct {
	users   identity.Store
	billing stripe.Client
	writer  *EntitlementWriter
	locker  repository.Locker
	log     *logger.Logger
}

// NewCustomerLinker создает CustomerLinker
func NewCustomerLinker(users identity.Store, billing stripe.Client, writer *EntitlementWriter, locker repository.Locker, log *logger.Logger) *CustomerLinker {
	return &CustomerLinker{
		users:   users,
		billing: billing,
		writer:  writer,
		locker:  locker,
		log:     log,
	}
}

// Ensure возвращает ID клиента Stripe: из метаданных, затем поиском по clerkUserId,
// и только потом создает нового. Найденный или созданный ID сохраняется в метаданных.
func (l *CustomerLinker) Ensure(ctx context.Context, user *domain.User) (string, error) {
	if id := user.Entitlement().StripeCustomerID; id != "" {
		return id, nil
	}

	unlock, err := l.locker.Lock(ctx, "customer:"+user.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Пока ждали блокировку, клиента мог создать параллельный запрос.
	fresh, err := l.users.Reload(ctx, user.ID)
	if err == nil {
		if id := fresh.Entitlement().StripeCustomerID; id != "" {
			return id, nil
		}
	}

	customerID, err := l.lookupOrCreate(ctx, user)
	if err != nil {
		return "", err
	}

	_, err = l.writer.Apply(ctx, user.ID, "customer_linked", time.Time{}, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
		return rec.WithCustomer(customerID)
	})
	if err != nil {
		// Следующий вызов найдет клиента поиском по clerkUserId.
		l.log.Warnw("Failed to persist Stripe customer ID", "userID", user.ID, "customerID", customerID, "error", err)
	}
	return customerID, nil
}

// Lookup возвращает ID клиента без создания нового. domain.ErrNotFound, если клиента нет.
func (l *CustomerLinker) Lookup(ctx context.Context, user *domain.User) (string, error) {
	if id := user.Entitlement().StripeCustomerID; id != "" {
		return id, nil
	}
	customer, err := l.billing.FindCustomerByUserID(ctx, user.ID)
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (l *CustomerLinker) lookupOrCreate(ctx context.Context, user *domain.User) (string, error) {
	customer, err := l.billing.FindCustomerByUserID(ctx, user.ID)
	if err == nil {
		l.log.Infow("Found existing Stripe customer", "userID", user.ID, "customerID", customer.ID)
		return customer.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("failed to search Stripe customer: %w", err)
	}

	customer, err = l.billing.CreateCustomer(ctx, domain.CustomerParams{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.FullName(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}
	l.log.Infow("Created Stripe customer", "userID", user.ID, "customerID", customer.ID)
	return customer.ID, nil
}
