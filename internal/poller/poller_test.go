package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	calls atomic.Int32
	ent   *domain.Entitlement
	err   error
}

func (r *staticResolver) Resolve(context.Context, string) (*domain.Entitlement, error) {
	r.calls.Add(1)
	return r.ent, r.err
}

// gatedResolver отвечает на i-й вызов, когда в gates[i] придет значение.
type gatedResolver struct {
	mu    sync.Mutex
	calls int
	gates []chan *domain.Entitlement
}

func (r *gatedResolver) Resolve(context.Context, string) (*domain.Entitlement, error) {
	r.mu.Lock()
	gate := r.gates[r.calls]
	r.calls++
	r.mu.Unlock()
	return <-gate, nil
}

func (r *gatedResolver) started() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestPoller_InitialStatusIsLoading(t *testing.T) {
	p := New(&staticResolver{}, "u1", Options{})
	assert.True(t, p.Status().Loading)
	assert.False(t, p.Status().IsPremium)
}

func TestPoller_RefreshSuccess(t *testing.T) {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	r := &staticResolver{ent: &domain.Entitlement{
		IsPremium:    true,
		Subscription: &domain.SubscriptionView{ID: "sub_1", Status: domain.SubscriptionStatusActive, CurrentPeriodEnd: &end},
		State:        domain.EntitlementStatePremium,
		Source:       domain.SourceLive,
	}}
	var changes []Status
	p := New(r, "u1", Options{OnChange: func(s Status) { changes = append(changes, s) }})

	st := p.Refresh(context.Background())

	assert.True(t, st.IsPremium)
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.Equal(t, "sub_1", st.Subscription.ID)
	assert.Equal(t, domain.SourceLive, st.Source)
	assert.False(t, st.UpdatedAt.IsZero())
	assert.Equal(t, st, p.Status())
	assert.Len(t, changes, 1)
}

func TestPoller_ErrorForcesFalse(t *testing.T) {
	r := &staticResolver{ent: &domain.Entitlement{IsPremium: true}}
	p := New(r, "u1", Options{})
	require.True(t, p.Refresh(context.Background()).IsPremium)

	r.ent, r.err = nil, errors.New("connection refused")
	st := p.Refresh(context.Background())

	assert.False(t, st.IsPremium)
	assert.Nil(t, st.Subscription)
	assert.EqualError(t, st.Err, "connection refused")
}

func TestPoller_LastCompletionWins(t *testing.T) {
	r := &gatedResolver{gates: []chan *domain.Entitlement{make(chan *domain.Entitlement), make(chan *domain.Entitlement)}}
	p := New(r, "u1", Options{})

	first := make(chan Status)
	go func() { first <- p.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return r.started() == 1 }, time.Second, time.Millisecond)

	second := make(chan Status)
	go func() { second <- p.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return r.started() == 2 }, time.Second, time.Millisecond)

	// Второй запрос завершается раньше первого.
	r.gates[1] <- &domain.Entitlement{IsPremium: false}
	st := <-second
	assert.False(t, st.IsPremium)
	assert.True(t, st.Loading)

	r.gates[0] <- &domain.Entitlement{IsPremium: true}
	st = <-first
	assert.True(t, st.IsPremium)
	assert.False(t, st.Loading)

	assert.True(t, p.Status().IsPremium)
}

func TestPoller_StartAndStop(t *testing.T) {
	r := &staticResolver{ent: &domain.Entitlement{IsPremium: true}}
	p := New(r, "u1", Options{Interval: 5 * time.Millisecond})

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, time.Millisecond)

	p.Stop()
	stopped := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, r.calls.Load())
	assert.True(t, p.Status().IsPremium)

	p.Stop()
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	r := &staticResolver{ent: &domain.Entitlement{}}
	p := New(r, "u1", Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	p.Stop()

	n := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, r.calls.Load())
}
