// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records runtime measurements. Implementations must be safe for
// concurrent use and must tolerate a nil receiver.
type Metrics interface {
	RecordSessionStarted(ctx context.Context, flowID string)
	RecordSessionEnded(ctx context.Context, flowID, status string)
	RecordNodeExecution(ctx context.Context, kind string, duration time.Duration, errCode string)
	RecordClassification(ctx context.Context, provider string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
}

// InitMetrics builds the Prometheus-backed metrics set. When disabled it
// returns an inert instance whose record methods are no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter(cfg.Namespace)
	name := func(suffix string) string { return cfg.Namespace + "_" + suffix }

	m := &PrometheusMetrics{}

	if m.sessionsStarted, err = meter.Int64Counter(
		name("sessions_started_total"),
		metric.WithDescription("Sessions started"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions started counter: %w", err)
	}

	if m.sessionsEnded, err = meter.Int64Counter(
		name("sessions_ended_total"),
		metric.WithDescription("Sessions reaching a terminal status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions ended counter: %w", err)
	}

	if m.nodeDuration, err = meter.Float64Histogram(
		name("node_duration_seconds"),
		metric.WithDescription("Node execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}

	if m.nodeExecutions, err = meter.Int64Counter(
		name("node_executions_total"),
		metric.WithDescription("Node executions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node executions counter: %w", err)
	}

	if m.nodeErrors, err = meter.Int64Counter(
		name("node_errors_total"),
		metric.WithDescription("Node execution errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node errors counter: %w", err)
	}

	if m.classifierDuration, err = meter.Float64Histogram(
		name("classifier_duration_seconds"),
		metric.WithDescription("Intent classification duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create classifier duration histogram: %w", err)
	}

	if m.classifierRequests, err = meter.Int64Counter(
		name("classifier_requests_total"),
		metric.WithDescription("Intent classification requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create classifier requests counter: %w", err)
	}

	if m.classifierErrors, err = meter.Int64Counter(
		name("classifier_errors_total"),
		metric.WithDescription("Intent classification errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create classifier errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		name("tool_duration_seconds"),
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCalls, err = meter.Int64Counter(
		name("tool_calls_total"),
		metric.WithDescription("Tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrors, err = meter.Int64Counter(
		name("tool_errors_total"),
		metric.WithDescription("Tool call errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		name("http_request_duration_seconds"),
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		name("http_requests_total"),
		metric.WithDescription("HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments exported
// through the Prometheus registry.
type PrometheusMetrics struct {
	sessionsStarted metric.Int64Counter
	sessionsEnded   metric.Int64Counter

	nodeDuration   metric.Float64Histogram
	nodeExecutions metric.Int64Counter
	nodeErrors     metric.Int64Counter

	classifierDuration metric.Float64Histogram
	classifierRequests metric.Int64Counter
	classifierErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

func (m *PrometheusMetrics) RecordSessionStarted(ctx context.Context, flowID string) {
	if m == nil || m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrFlowID, flowID)))
}

func (m *PrometheusMetrics) RecordSessionEnded(ctx context.Context, flowID, status string) {
	if m == nil || m.sessionsEnded == nil {
		return
	}
	m.sessionsEnded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrFlowID, flowID),
		attribute.String("status", status),
	))
}

func (m *PrometheusMetrics) RecordNodeExecution(ctx context.Context, kind string, duration time.Duration, errCode string) {
	if m == nil || m.nodeDuration == nil || m.nodeExecutions == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrNodeKind, kind),
	}

	m.nodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errCode != "" && m.nodeErrors != nil {
		m.nodeErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrNodeKind, kind),
			attribute.String(AttrErrorCode, errCode),
		))
	}
}

func (m *PrometheusMetrics) RecordClassification(ctx context.Context, provider string, duration time.Duration, err error) {
	if m == nil || m.classifierDuration == nil || m.classifierRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrProvider, provider),
	}

	m.classifierDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.classifierRequests.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.classifierErrors != nil {
		m.classifierErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCalls == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrToolID, tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrors != nil {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpDuration == nil || m.httpRequests == nil {
		return
	}

	m.httpDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
	))
	m.httpRequests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	))
}

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics instance, which may be nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

var _ Metrics = (*PrometheusMetrics)(nil)
