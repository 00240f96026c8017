package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// Manager owns the metric pipeline lifecycle.
type Manager struct {
	config        Config
	metrics       Metrics
	meterProvider *sdkmetric.MeterProvider
	mu            sync.RWMutex
}

func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// NoopManager returns a manager that records nothing and serves a
// 503 from its metrics handler.
func NoopManager() *Manager {
	return &Manager{metrics: NoopMetrics{}}
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, provider, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	m.meterProvider = provider

	SetGlobalMetrics(m.metrics)
	return nil
}

func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// Handler serves the Prometheus scrape endpoint. The exporter
// registers against the default registry, so the stock promhttp
// handler exposes everything once Initialize has run.
func (m *Manager) Handler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meterProvider == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.Handler()
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meterProvider == nil {
		return nil
	}
	return m.meterProvider.Shutdown(ctx)
}
