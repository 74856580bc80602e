package metrics

import (
	"strconv"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты записи доступа
const (
	WriteCommitted = "committed"
	WriteNoop      = "noop"
	WriteConflict  = "conflict"
	WriteStale     = "stale"
	WriteFailed    = "failed"
)

// EntitlementMetrics интерфейс для метрик резолвера, вебхуков и вызовов Stripe
type EntitlementMetrics interface {
	IncResolution(source domain.ResolutionSource, premium bool)
	IncWrite(result string)
	IncWebhookEvent(eventType domain.EventType, result string)
	ObserveBillingCall(operation, result string, duration time.Duration)
}

type entitlementMetrics struct {
	log             *logger.Logger
	resolutions     *prometheus.CounterVec
	writes          *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	billingDuration *prometheus.HistogramVec
}

// NewEntitlementMetrics регистрирует метрики в переданном реестре
func NewEntitlementMetrics(registry *prometheus.Registry, log *logger.Logger) EntitlementMetrics {
	resolutions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_resolutions_total",
			Help: "The total number of entitlement resolutions by source and result",
		},
		[]string{"source", "premium"},
	)

	writes := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_writes_total",
			Help: "The total number of entitlement write attempts by result",
		},
		[]string{"result"},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "The total number of Stripe webhook events by type and result",
		},
		[]string{"type", "result"},
	)

	billingDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_request_duration_seconds",
			Help:    "Latency of Stripe API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	log.Debugw("Entitlement metrics registered")

	return &entitlementMetrics{
		log:             log,
		resolutions:     resolutions,
		writes:          writes,
		webhookEvents:   webhookEvents,
		billingDuration: billingDuration,
	}
}

// IncResolution увеличивает счетчик резолвов
func (m *entitlementMetrics) IncResolution(source domain.ResolutionSource, premium bool) {
	m.resolutions.WithLabelValues(string(source), strconv.FormatBool(premium)).Inc()
}

// IncWrite увеличивает счетчик записей доступа
func (m *entitlementMetrics) IncWrite(result string) {
	m.writes.WithLabelValues(result).Inc()
}

// IncWebhookEvent увеличивает счетчик событий вебхука
func (m *entitlementMetrics) IncWebhookEvent(eventType domain.EventType, result string) {
	m.webhookEvents.WithLabelValues(string(eventType), result).Inc()
}

// ObserveBillingCall записывает длительность вызова Stripe
func (m *entitlementMetrics) ObserveBillingCall(operation, result string, duration time.Duration) {
	m.billingDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

type noopMetrics struct{}

// NewNoopMetrics возвращает метрики, которые ничего не делают (для тестов и CLI)
func NewNoopMetrics() EntitlementMetrics {
	return noopMetrics{}
}

func (noopMetrics) IncResolution(domain.ResolutionSource, bool) {}
func (noopMetrics) IncWrite(string) {}
func (noopMetrics) IncWebhookEvent(domain.EventType, string) {}
func (noopMetrics) ObserveBillingCall(string, string, time.Duration) {}
