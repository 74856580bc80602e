// Package service бизнес-логика: доступ к премиуму, биллинг, вебхуки и ростер тренера.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/identity"
	"github.com/Dhoini/runsheet-api/internal/metrics"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxWriteRetries = 3
	publishTimeout  = 10 * time.Second
)

// EventPublisher публикует изменения доступа. Реализуется kafka.Producer.
type EventPublisher interface {
	PublishEntitlementChanged(ctx context.Context, event domain.EntitlementChanged) error
}

// Mutation переход записи о доступе
type Mutation func(rec domain.EntitlementRecord) domain.EntitlementRecord

// WriteResult итог Apply
type WriteResult struct {
	Before    domain.EntitlementRecord
	After     domain.EntitlementRecord
	Committed bool
	Stale     bool
}

// EntitlementWriter единственное место, где меняется запись о доступе в метаданных.
//
// Запись сериализуется блокировкой по пользователю и проверяет entitlementVersion
// перед записью: если версия сдвинулась, попытка повторяется целиком.
type EntitlementWriter struct {
	users     identity.Store
	locker    repository.Locker
	publisher EventPublisher
	metrics   metrics.EntitlementMetrics
	log       *logger.Logger
	now       func() time.Time
	retryBase time.Duration
	wg        sync.WaitGroup
	pending   atomic.Int64
}

// NewEntitlementWriter создает writer. publisher может быть nil.
func NewEntitlementWriter(
	users identity.Store,
	locker repository.Locker,
	publisher EventPublisher,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) *EntitlementWriter {
	if publisher == nil {
		log.Warnw("Entitlement event publisher is nil, event publishing will be skipped")
	}
	return &EntitlementWriter{
		users:     users,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
		retryBase: 50 * time.Millisecond,
	}
}

// Apply применяет mutate к записи пользователя.
//
// eventAt время создания события вебхука; нулевое значение для живой проверки и checkout.
// Событие старше последнего примененного не меняет статус и только дописывает
// отсутствующий конец периода той же подписки. Если mutate ничего не меняет,
// запись не выполняется и версия не растет, поэтому повторное применение события идемпотентно.
func (w *EntitlementWriter) Apply(ctx context.Context, userID, reason string, eventAt time.Time, mutate Mutation) (WriteResult, error) {
	var result WriteResult

	operation := func() error {
		res, err := w.attempt(ctx, userID, eventAt, mutate)
		if errors.Is(err, domain.ErrVersionConflict) {
			w.metrics.IncWrite(metrics.WriteConflict)
			w.log.Warnw("Entitlement version conflict, retrying", "userID", userID, "reason", reason)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryBase
	bo.MaxInterval = time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxWriteRetries), ctx))
	if err != nil {
		w.metrics.IncWrite(metrics.WriteFailed)
		return WriteResult{}, fmt.Errorf("failed to write entitlement for user %s: %w", userID, err)
	}

	switch {
	case result.Stale:
		w.metrics.IncWrite(metrics.WriteStale)
		w.log.Infow("Skipping stale entitlement event", "userID", userID, "reason", reason, "eventAt", eventAt)
	case !result.Committed:
		w.metrics.IncWrite(metrics.WriteNoop)
		w.log.Debugw("Entitlement unchanged", "userID", userID, "reason", reason)
	default:
		w.metrics.IncWrite(metrics.WriteCommitted)
		w.log.Infow("Entitlement updated",
			"userID", userID,
			"reason", reason,
			"from", result.Before.State,
			"to", result.After.State,
			"isPremium", result.After.IsPremium,
			"version", result.After.Version,
		)
		w.publish(userID, reason, result)
	}
	return result, nil
}

func (w *EntitlementWriter) attempt(ctx context.Context, userID string, eventAt time.Time, mutate Mutation) (WriteResult, error) {
	unlock, err := w.locker.Lock(ctx, "entitlement:"+userID)
	if err != nil {
		return WriteResult{}, err
	}
	defer unlock()

	user, err := w.users.Reload(ctx, userID)
	if err != nil {
		return WriteResult{}, err
	}
	before := user.Entitlement()

	var after domain.EntitlementRecord
	if !eventAt.IsZero() && before.IsStale(eventAt) {
		// Устаревшее событие не меняет статус, но может дописать недостающие поля.
		after = before.FillFrom(mutate(before))
		if after.SameAs(before) {
			return WriteResult{Before: before, After: before, Stale: true}, nil
		}
	} else {
		after = mutate(before)
		if !eventAt.IsZero() {
			after = after.WithEventAt(eventAt)
		}
		if after.SameAs(before) {
			return WriteResult{Before: before, After: before}, nil
		}
	}

	current, err := w.users.Reload(ctx, userID)
	if err != nil {
		return WriteResult{}, err
	}
	if v := current.Entitlement().Version; v != before.Version {
		return WriteResult{}, fmt.Errorf("%w: read version %d, found %d", domain.ErrVersionConflict, before.Version, v)
	}

	after = after.Stamp(before.Version+1, w.now())
	if _, err := w.users.UpdateMetadata(ctx, userID, after.Metadata()); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Before: before, After: after, Committed: true}, nil
}

// publish отправляет событие в фоне, не блокируя ответ.
func (w *EntitlementWriter) publish(userID, reason string, res WriteResult) {
	if w.publisher == nil {
		return
	}
	event := domain.EntitlementChanged{
		UserID:         userID,
		From:           res.Before.State,
		To:             res.After.State,
		IsPremium:      res.After.IsPremium,
		SubscriptionID: res.After.SubscriptionID,
		Status:         res.After.SubscriptionStatus,
		Version:        res.After.Version,
		Reason:         reason,
		OccurredAt:     w.now().UTC(),
	}

	w.wg.Add(1)
	w.pending.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.pending.Add(-1)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := w.publisher.PublishEntitlementChanged(ctx, event); err != nil {
			w.log.Errorw("Failed to publish entitlement event", "userID", userID, "reason", reason, "error", err)
		}
	}()
}

// Pending число публикаций, которые еще выполняются.
func (w *EntitlementWriter) Pending() int {
	return int(w.pending.Load())
}

// Wait ждет завершения фоновых публикаций; вызывается при остановке сервиса.
func (w *EntitlementWriter) Wait() {
	w.wg.Wait()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
