// Package observability wires the gateway's Prometheus metrics
// through the OpenTelemetry metric SDK.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics records the gateway's operational signals. All methods are
// safe on a nil or partially initialized receiver.
type Metrics interface {
	RecordSessionStart(ctx context.Context)
	RecordSessionEnd(ctx context.Context, reason string, duration time.Duration)
	RecordFrame(ctx context.Context, direction string)
	RecordToolCall(ctx context.Context, tool, outcome string, duration time.Duration)
	RecordAgentSwitch(ctx context.Context, agentID string)
	RecordConversationWrite(ctx context.Context, ok bool)
}

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// InitMetrics builds the Prometheus-backed metrics set. When disabled
// it returns an empty recorder whose methods do nothing.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, *sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("gateway")

	sessionsStarted, err := meter.Int64Counter(
		"gateway_sessions_started_total",
		metric.WithDescription("Total voice sessions accepted"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sessions counter: %w", err)
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"gateway_sessions_active",
		metric.WithDescription("Voice sessions currently bridged"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create active sessions gauge: %w", err)
	}

	sessionDuration, err := meter.Float64Histogram(
		"gateway_session_duration_seconds",
		metric.WithDescription("Session duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session duration histogram: %w", err)
	}

	framesTotal, err := meter.Int64Counter(
		"gateway_frames_total",
		metric.WithDescription("Frames relayed, by direction"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create frames counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"gateway_tool_calls_total",
		metric.WithDescription("Tool invocations, by tool and outcome"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"gateway_tool_call_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	agentSwitches, err := meter.Int64Counter(
		"gateway_agent_switches_total",
		metric.WithDescription("Completed agent handovers"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent switches counter: %w", err)
	}

	conversationWrites, err := meter.Int64Counter(
		"gateway_conversation_writes_total",
		metric.WithDescription("Conversation documents written, by status"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create conversation writes counter: %w", err)
	}

	return &PrometheusMetrics{
		sessionsStarted:    sessionsStarted,
		sessionsActive:     sessionsActive,
		sessionDuration:    sessionDuration,
		framesTotal:        framesTotal,
		toolCalls:          toolCalls,
		toolDuration:       toolDuration,
		agentSwitches:      agentSwitches,
		conversationWrites: conversationWrites,
	}, meterProvider, nil
}

// PrometheusMetrics implements Metrics over otel instruments.
type PrometheusMetrics struct {
	sessionsStarted    metric.Int64Counter
	sessionsActive     metric.Int64UpDownCounter
	sessionDuration    metric.Float64Histogram
	framesTotal        metric.Int64Counter
	toolCalls          metric.Int64Counter
	toolDuration       metric.Float64Histogram
	agentSwitches      metric.Int64Counter
	conversationWrites metric.Int64Counter
}

func (m *PrometheusMetrics) RecordSessionStart(ctx context.Context) {
	if m == nil || m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1)
	m.sessionsActive.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordSessionEnd(ctx context.Context, reason string, duration time.Duration) {
	if m == nil || m.sessionDuration == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
	m.sessionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *PrometheusMetrics) RecordFrame(ctx context.Context, direction string) {
	if m == nil || m.framesTotal == nil {
		return
	}
	m.framesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool, outcome string, duration time.Duration) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)))
}

func (m *PrometheusMetrics) RecordAgentSwitch(ctx context.Context, agentID string) {
	if m == nil || m.agentSwitches == nil {
		return
	}
	m.agentSwitches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agentID)))
}

func (m *PrometheusMetrics) RecordConversationWrite(ctx context.Context, ok bool) {
	if m == nil || m.conversationWrites == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.conversationWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics{}
	}
	return globalMetrics
}

// NoopMetrics discards every recording.
type NoopMetrics struct{}

func (NoopMetrics) RecordSessionStart(context.Context)                            {}
func (NoopMetrics) RecordSessionEnd(context.Context, string, time.Duration)       {}
func (NoopMetrics) RecordFrame(context.Context, string)                           {}
func (NoopMetrics) RecordToolCall(context.Context, string, string, time.Duration) {}
func (NoopMetrics) RecordAgentSwitch(context.Context, string)                     {}
func (NoopMetrics) RecordConversationWrite(context.Context, bool)                 {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
