package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments shared across the node/task/orchestrator core.
type Metrics struct {
	GateWaitMS       metric.Float64Histogram
	StepDurationMS   metric.Float64Histogram
	NodeCallSuccess  metric.Int64Counter
	NodeCallError    metric.Int64Counter
	TaskStarts       metric.Int64Counter
	TaskFinishes     metric.Int64Counter
	TaskErrors       metric.Int64Counter
	RetryAttempts    metric.Int64Counter
	CircuitOpenTotal metric.Int64Counter
}

// InitMetrics sets up the global OTLP metrics exporter (push) and returns the shutdown func.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, createInstruments()
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, createInstruments()
}

func createInstruments() Metrics {
	meter := otel.Meter("glas")
	gateWait, _ := meter.Float64Histogram("glas_node_gate_wait_ms")
	stepDur, _ := meter.Float64Histogram("glas_task_step_duration_ms")
	callSuccess, _ := meter.Int64Counter("glas_node_call_success_total")
	callError, _ := meter.Int64Counter("glas_node_call_error_total")
	taskStarts, _ := meter.Int64Counter("glas_task_starts_total")
	taskFinishes, _ := meter.Int64Counter("glas_task_finishes_total")
	taskErrors, _ := meter.Int64Counter("glas_task_errors_total")
	retry, _ := meter.Int64Counter("glas_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("glas_resilience_circuit_open_total")
	return Metrics{
		GateWaitMS:       gateWait,
		StepDurationMS:   stepDur,
		NodeCallSuccess:  callSuccess,
		NodeCallError:    callError,
		TaskStarts:       taskStarts,
		TaskFinishes:     taskFinishes,
		TaskErrors:       taskErrors,
		RetryAttempts:    retry,
		CircuitOpenTotal: circuit,
	}
}
