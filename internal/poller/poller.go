// Package poller периодически опрашивает статус премиума пользователя.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// DefaultInterval интервал опроса по умолчанию
const DefaultInterval = 10 * time.Second

// Resolver источник статуса: service.EntitlementService или apiclient.Client.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*domain.Entitlement, error)
}

// Status текущее состояние опроса
type Status struct {
	IsPremium    bool
	Subscription *domain.SubscriptionView
	State        domain.EntitlementState
	Source       domain.ResolutionSource
	Loading      bool
	Err          error
	UpdatedAt    time.Time
}

// Options настройки Poller
type Options struct {
	Interval time.Duration
	OnChange func(Status)
	Logger   *logger.Logger
}

// Poller держит последний известный статус пользователя.
//
// Запросы могут пересекаться; в Status попадает результат того, что завершился последним.
type Poller struct {
	resolver Resolver
	userID   string
	interval time.Duration
	onChange func(Status)
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	status   Status
	inflight int
	cancel   context.CancelFunc
	done     chan struct{}
}

// New создает Poller. Пока первый запрос не завершился, Status().Loading == true.
func New(resolver Resolver, userID string, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Poller{
		resolver: resolver,
		userID:   userID,
		interval: opts.Interval,
		onChange: opts.OnChange,
		log:      opts.Logger,
		now:      time.Now,
		status:   Status{Loading: true},
	}
}

// Start запрашивает статус сразу и затем каждые Interval до Stop или отмены ctx.
// Повторный вызов без Stop ничего не делает.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.Refresh(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Refresh(ctx)
			}
		}
	}()
}

// Stop останавливает опрос и ждет завершения текущего запроса цикла.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Refresh выполняет запрос вне расписания и возвращает новый статус.
func (p *Poller) Refresh(ctx context.Context) Status {
	p.mu.Lock()
	p.inflight++
	p.status.Loading = true
	p.mu.Unlock()

	ent, err := p.resolver.Resolve(ctx, p.userID)

	p.mu.Lock()
	p.inflight--
	next := Status{
		Loading:   p.inflight > 0,
		UpdatedAt: p.now(),
	}
	if err != nil {
		next.Err = err
		p.log.Warnw("Premium status check failed", "userID", p.userID, "error", err)
	} else {
		next.IsPremium = ent.IsPremium
		next.Subscription = ent.Subscription
		next.State = ent.State
		next.Source = ent.Source
	}
	p.status = next
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(next)
	}
	return next
}

// Status возвращает копию последнего статуса
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
