package observability

import (
	"context"
	"testing"
	"time"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Tracing.ServiceName != "nestor" {
		t.Errorf("expected default service name nestor, got %q", cfg.Tracing.ServiceName)
	}
	if cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("expected default sampling rate 1.0, got %f", cfg.Tracing.SamplingRate)
	}
	if cfg.Tracing.Exporter != "otlp" {
		t.Errorf("expected default exporter otlp, got %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" {
		t.Errorf("expected default endpoint localhost:4317, got %q", cfg.Tracing.Endpoint)
	}
	if !cfg.Tracing.IsInsecure() {
		t.Error("expected insecure by default")
	}
	if cfg.Tracing.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", cfg.Tracing.Timeout)
	}
	if cfg.Metrics.Endpoint != "/metrics" {
		t.Errorf("expected default metrics endpoint /metrics, got %q", cfg.Metrics.Endpoint)
	}
	if cfg.Metrics.Namespace != "nestor" {
		t.Errorf("expected default namespace nestor, got %q", cfg.Metrics.Namespace)
	}
}

func TestTracingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{
			name: "disabled_skips_validation",
			cfg:  TracingConfig{Enabled: false},
		},
		{
			name: "valid_otlp",
			cfg:  TracingConfig{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", SamplingRate: 0.5},
		},
		{
			name: "valid_stdout_without_endpoint",
			cfg:  TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1.0},
		},
		{
			name:    "otlp_requires_endpoint",
			cfg:     TracingConfig{Enabled: true, Exporter: "otlp", SamplingRate: 1.0},
			wantErr: true,
		},
		{
			name:    "sampling_rate_out_of_range",
			cfg:     TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1.5},
			wantErr: true,
		},
		{
			name:    "unknown_exporter",
			cfg:     TracingConfig{Enabled: true, Exporter: "jaeger", SamplingRate: 1.0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a noop provider, got nil")
	}

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestDisabledMetricsAreInert(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	m.RecordSessionStarted(ctx, "flow-1")
	m.RecordSessionEnded(ctx, "flow-1", "completed")
	m.RecordNodeExecution(ctx, "message", time.Millisecond, "")
	m.RecordClassification(ctx, "rules", time.Millisecond, nil)
	m.RecordToolExecution(ctx, "lookup", time.Millisecond, nil)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	var nilMetrics *PrometheusMetrics
	nilMetrics.RecordSessionStarted(ctx, "flow-1")
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()

	tracer := m.GetTracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	m.GetMetrics().RecordSessionStarted(context.Background(), "flow-1")

	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
