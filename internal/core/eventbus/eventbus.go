// Package eventbus publishes task/node lifecycle events to NATS for the
// out-of-scope flame-chart visualizer and log sinks to consume. GLAS never
// depends on a subscriber existing: publish failures are logged and
// swallowed, never surfaced to the caller.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Bus wraps an optional NATS connection; a nil connection makes every
// publish a silent no-op, so the orchestrator can run with no NATS server
// configured.
type Bus struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect dials url; on failure it returns a Bus with nc == nil rather than
// an error, since the event bus is a side channel and must never block
// orchestrator startup.
func Connect(url string, logger *slog.Logger) *Bus {
	if url == "" {
		return &Bus{logger: logger}
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		logger.Warn("eventbus: nats connect failed, events will be dropped", "error", err)
		return &Bus{logger: logger}
	}
	return &Bus{nc: nc, logger: logger}
}

// NodeStateChanged publishes on glas.node.<id>.state.
func (b *Bus) NodeStateChanged(ctx context.Context, nodeID, state string) {
	b.publish(ctx, "glas.node."+nodeID+".state", map[string]string{"node_id": nodeID, "state": state})
}

// TaskStateChanged publishes on glas.task.<uuid>.state.
func (b *Bus) TaskStateChanged(ctx context.Context, taskUUID, state string) {
	b.publish(ctx, "glas.task."+taskUUID+".state", map[string]string{"task_uuid": taskUUID, "state": state})
}

// StepExecuted publishes on glas.task.<uuid>.step.
func (b *Bus) StepExecuted(ctx context.Context, taskUUID, nodeID string, status int) {
	b.publish(ctx, "glas.task."+taskUUID+".step", map[string]any{
		"task_uuid": taskUUID,
		"node_id":   nodeID,
		"status":    status,
	})
}

func (b *Bus) publish(ctx context.Context, subject string, payload any) {
	if b.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("eventbus: marshal failed", "subject", subject, "error", err)
		return
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	if err := b.nc.PublishMsg(msg); err != nil {
		b.logger.Warn("eventbus: publish failed", "subject", subject, "error", err)
	}
}

// Subscribe wraps nc.Subscribe, extracting trace context per message and
// starting a child span — unused by GLAS's own components today but kept
// so an operator's own sink can attach without threading context by hand.
func (b *Bus) Subscribe(subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	if b.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("glas-eventbus")
		ctx, span := tr.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}

// Close closes the underlying connection, if any, without draining it.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
