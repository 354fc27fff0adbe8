package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swisscatplus/glas/internal/node"
)

// defaultIntervalSeconds is used for any registered node with no cadence
// override in the bbolt store.
const defaultIntervalSeconds = 30

// Registry is the narrow view of the orchestrator's node set the watchdog
// needs. internal/orchestrator.Orchestrator satisfies this via GetAllNodes.
type Registry interface {
	GetAllNodes() []*node.Node
}

// Deps bundles the watchdog's collaborators.
type Deps struct {
	Logger  *slog.Logger
	Cadence *CadenceStore
	Meter   metric.Meter
}

// Watchdog polls every registered node's reachability on its own cron
// schedule and logs/counts the outcome. It never restarts a node, retries a
// step, or schedules a task — recovery stays an operator action through
// Orchestrator.RestartNode.
type Watchdog struct {
	logger  *slog.Logger
	cadence *CadenceStore

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID

	unreachable metric.Int64Counter
	sweeps      metric.Int64Counter
}

// New builds a Watchdog. The cron scheduler is not started until Start is called.
func New(deps Deps) (*Watchdog, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watchdog{
		logger:  logger,
		cadence: deps.Cadence,
		cron:    cron.New(cron.WithSeconds()),
		entries: make(map[string]cron.EntryID),
	}

	if deps.Meter != nil {
		unreachable, err := deps.Meter.Int64Counter("glas_watchdog_unreachable_total",
			metric.WithDescription("Count of watchdog polls that found a node unreachable"))
		if err != nil {
			return nil, fmt.Errorf("watchdog: build unreachable counter: %w", err)
		}
		sweeps, err := deps.Meter.Int64Counter("glas_watchdog_sweeps_total",
			metric.WithDescription("Count of watchdog reachability polls performed"))
		if err != nil {
			return nil, fmt.Errorf("watchdog: build sweeps counter: %w", err)
		}
		w.unreachable = unreachable
		w.sweeps = sweeps
	}

	return w, nil
}

// Watch registers n for periodic reachability polling. The interval comes
// from the cadence store if an override is persisted for n.ID, otherwise
// defaultIntervalSeconds. Calling Watch again for the same node id replaces
// its schedule.
func (w *Watchdog) Watch(ctx context.Context, n *node.Node) error {
	interval := defaultIntervalSeconds
	if w.cadence != nil {
		if seconds, ok, err := w.cadence.Cadence(n.ID); err != nil {
			return fmt.Errorf("watchdog: read cadence for %s: %w", n.ID, err)
		} else if ok && seconds > 0 {
			interval = seconds
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.entries[n.ID]; ok {
		w.cron.Remove(existing)
		delete(w.entries, n.ID)
	}

	spec := fmt.Sprintf("@every %ds", interval)
	id, err := w.cron.AddFunc(spec, func() { w.poll(ctx, n) })
	if err != nil {
		return fmt.Errorf("watchdog: schedule %s: %w", n.ID, err)
	}
	w.entries[n.ID] = id
	return nil
}

// WatchAll registers every node from a Registry.
func (w *Watchdog) WatchAll(ctx context.Context, reg Registry) error {
	for _, n := range reg.GetAllNodes() {
		if err := w.Watch(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Unwatch removes a node's schedule, if any.
func (w *Watchdog) Unwatch(nodeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.entries[nodeID]; ok {
		w.cron.Remove(id)
		delete(w.entries, nodeID)
	}
}

func (w *Watchdog) poll(ctx context.Context, n *node.Node) {
	if w.sweeps != nil {
		w.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", n.ID)))
	}

	reachable := n.IsUsable(ctx)
	if reachable {
		w.logger.Debug("node reachability ok", "node_id", n.ID, "node_name", n.Name)
		return
	}

	if w.unreachable != nil {
		w.unreachable.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", n.ID)))
	}
	w.logger.Warn("node unreachable", "node_id", n.ID, "node_name", n.Name, "state", n.State().String())
}

// Start begins running every registered schedule in its own goroutine.
func (w *Watchdog) Start() {
	w.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight poll to finish.
func (w *Watchdog) Stop(ctx context.Context) {
	stopCtx := w.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
}
