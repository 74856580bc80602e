package service

import (
	"context"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/internal/stripe"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// EntitlementResolver отвечает на вопрос "есть ли у пользователя премиум".
// Реализуется EntitlementService и HTTP-клиентом CLI.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (*domain.Entitlement, error)
}

// EntitlementService сверяет метаданные пользователя с подписками Stripe.
type EntitlementService struct {
	users     identity.Store
	billing   stripe.Client
	customers *CustomerLinker
	writer    *EntitlementWriter
	fallback  time.Duration
	metrics   metrics.EntitlementMetrics
	log       *logger.Logger
	now       func() time.Time
}

// NewEntitlementService создает резолвер. fallback срок премиума, если Stripe не прислал конец периода.
func NewEntitlementService(
	users identity.Store,
	billing stripe.Client,
	customers *CustomerLinker,
	writer *EntitlementWriter,
	fallback time.Duration,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) *EntitlementService {
	return &EntitlementService{
		users:     users,
		billing:   billing,
		customers: customers,
		writer:    writer,
		fallback:  fallback,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Resolve возвращает доступ пользователя.
//
// Быстрый путь: метаданные говорят "премиум" и период не истек, Stripe не вызывается.
// Иначе живая проверка в Stripe с исправлением метаданных. Ошибки живой проверки не
// возвращаются: ответ строится по закешированной записи.
func (s *EntitlementService) Resolve(ctx context.Context, userID string) (*domain.Entitlement, error) {
	user, err := s.users.Reload(ctx, userID)
	if err != nil {
		s.log.Warnw("Failed to reload user, using cached copy", "userID", userID, "error", err)
		user, err = s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	rec := user.Entitlement()
	now := s.now()

	if rec.ActiveAt(now) {
		return s.result(&domain.Entitlement{
			IsPremium:    true,
			Subscription: rec.CachedSubscription(),
			State:        rec.State,
			Source:       domain.SourceMetadata,
		}), nil
	}

	ent, err := s.liveCheck(ctx, user, now)
	if err != nil {
		s.log.Warnw("Live subscription check failed, answering from metadata",
			"userID", userID,
			"cachedPremium", rec.IsPremium,
			"error", err,
		)
		if rec.IsPremium {
			return s.result(&domain.Entitlement{
				IsPremium:    true,
				Subscription: rec.CachedSubscription(),
				State:        rec.State,
				Source:       domain.SourceStaleCache,
			}), nil
		}
		return s.result(&domain.Entitlement{
			IsPremium: false,
			State:     rec.State,
			Source:    domain.SourceFallback,
		}), nil
	}
	return s.result(ent), nil
}

func (s *EntitlementService) liveCheck(ctx context.Context, user *domain.User, now time.Time) (*domain.Entitlement, error) {
	customerID, err := s.customers.Ensure(ctx, user)
	if err != nil {
		return nil, err
	}

	subs, err := s.billing.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		res, err := s.writer.Apply(ctx, user.ID, "live_check", time.Time{}, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
			return rec.WithNoActiveSubscription()
		})
		state := user.Entitlement().WithNoActiveSubscription().State
		if err != nil {
			s.log.Warnw("Failed to correct entitlement after live check", "userID", user.ID, "error", err)
		} else {
			state = res.After.State
		}
		return &domain.Entitlement{IsPremium: false, State: state, Source: domain.SourceLive}, nil
	}

	sub := subs[0]
	periodEnd := sub.PeriodEndOr(now, s.fallback)
	if _, err := s.writer.Apply(ctx, user.ID, "live_check", time.Time{}, func(rec domain.EntitlementRecord) domain.EntitlementRecord {
		return rec.WithSubscription(sub, periodEnd)
	}); err != nil {
		s.log.Warnw("Failed to repair entitlement after live check", "userID", user.ID, "subscriptionID", sub.ID, "error", err)
	}

	view := sub.View()
	if view.CurrentPeriodEnd == nil {
		view.CurrentPeriodEnd = &periodEnd
	}
	return &domain.Entitlement{
		IsPremium:    true,
		Subscription: view,
		State:        domain.EntitlementStatePremium,
		Source:       domain.SourceLive,
	}, nil
}

func (s *EntitlementService) result(ent *domain.Entitlement) *domain.Entitlement {
	s.metrics.IncResolution(ent.Source, ent.IsPremium)
	return ent
}
