package stripe

import (
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/stripe/stripe-go/v78"
)

// toDomainCustomer преобразует клиента Stripe в доменную модель
func toDomainCustomer(c *stripe.Customer) *domain.Customer {
	return &domain.Customer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Metadata: c.Metadata,
	}
}

// toDomainSubscription преобразует подписку Stripe в доменную модель.
// current_period_end = 0 считается отсутствующим.
func toDomainSubscription(s *stripe.Subscription) domain.Subscription {
	out := domain.Subscription{
		ID:       s.ID,
		Status:   domain.SubscriptionStatus(s.Status),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CurrentPeriodEnd > 0 {
		end := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	return out
}

// toDomainCheckoutSession преобразует Checkout Session в доменную модель
func toDomainCheckoutSession(s *stripe.CheckoutSession) *domain.CheckoutSession {
	out := &domain.CheckoutSession{
		ID:       s.ID,
		URL:      s.URL,
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

// leveledLogger направляет внутренние логи stripe-go в наш логгер.
type leveledLogger struct {
	log *logger.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug(format, v...) }
func (l *leveledLogger) Infof(format string, v ...interface{}) { l.log.Debug(format, v...) }
func (l *leveledLogger) Warnf(format string, v ...interface{}) { l.log.Warn(format, v...) }
func (l *leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error(format, v...) }
