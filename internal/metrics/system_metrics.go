package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics метрики процесса, снимаемые по таймеру
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

// PendingFunc возвращает число фоновых задач, которые еще не завершились.
type PendingFunc func() int

type systemMetrics struct {
	log        *logger.Logger
	started    time.Time
	pending    PendingFunc
	goroutines prometheus.Gauge
	heapAlloc  prometheus.Gauge
	heapSys    prometheus.Gauge
	gcCycles   prometheus.Gauge
	uptime     prometheus.Gauge
	backlog    prometheus.Gauge
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewSystemMetrics создает метрики процесса. pending может быть nil,
// тогда runsheet_process_pending_publishes не обновляется.
func NewSystemMetrics(registry *prometheus.Registry, pending PendingFunc, log *logger.Logger) SystemMetrics {
	factory := promauto.With(registry)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "runsheet",
			Subsystem: "process",
			Name:      name,
			Help:      help,
		})
	}

	return &systemMetrics{
		log:        log,
		started:    time.Now(),
		pending:    pending,
		goroutines: gauge("goroutines", "Current number of goroutines"),
		heapAlloc:  gauge("heap_alloc_bytes", "Bytes of allocated heap objects"),
		heapSys:    gauge("heap_sys_bytes", "Bytes of heap memory obtained from the OS"),
		// NumGC уже накопительный, поэтому Gauge, а не Counter
		gcCycles: gauge("gc_cycles", "Number of completed GC cycles"),
		uptime:   gauge("uptime_seconds", "Seconds since the service started"),
		backlog:  gauge("pending_publishes", "Entitlement events still being published"),
		stopCh:   make(chan struct{}),
	}
}

// Record снимает текущие значения
func (m *systemMetrics) Record() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.heapAlloc.Set(float64(memStats.HeapAlloc))
	m.heapSys.Set(float64(memStats.HeapSys))
	m.gcCycles.Set(float64(memStats.NumGC))
	m.uptime.Set(time.Since(m.started).Seconds())
	if m.pending != nil {
		m.backlog.Set(float64(m.pending()))
	}
}

// StartRecording снимает метрики сразу и затем с заданным интервалом
func (m *systemMetrics) StartRecording(interval time.Duration) {
	m.Record()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Record()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Infow("System metrics recording started", "interval", interval.String())
}

// Stop останавливает запись метрик. Повторный вызов безопасен.
func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Infow("System metrics recording stopped")
	})
}
