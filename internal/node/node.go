// Package node implements the Node gate: the per-instrument mutual-exclusion
// wrapper around a physical or simulated device. A Node owns a mutex held
// across the entire user action, a state machine, and the persistence/metrics
// bookkeeping that turns one execute call into ExecutionRecord + NodeCallRecord
// rows.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the Node state machine.
type State int

const (
	Available State = iota + 1
	InUse
	Recovery
	Offline
	Error
	Restarting
)

func (s State) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case InUse:
		return "IN_USE"
	case Recovery:
		return "RECOVERY"
	case Offline:
		return "OFFLINE"
	case Error:
		return "ERROR"
	case Restarting:
		return "RESTARTING"
	default:
		return "UNKNOWN"
	}
}

// ErrorNextStep is the resume policy a node can report after a failed step
// is manually recovered. The numeric values are load-bearing: the task step
// loop uses them directly as index offsets.
type ErrorNextStep int

const (
	Self ErrorNextStep = 0
	Next ErrorNextStep = 1
)

// ActionResult is what a user-supplied action hook returns.
type ActionResult struct {
	Status   int
	Message  string
	Endpoint string
}

// Hooks is the polymorphic action table a concrete instrument plugs in:
// a capability table instead of a deep inheritance hierarchy.
type Hooks struct {
	// Action runs the node's core operation against optional src/dst neighbors.
	Action func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult
	// Restart recovers a node from ERROR/RECOVERY. Returns non-zero on failure.
	Restart func(ctx context.Context) int
	// Shutdown releases any resources held by the node. Best-effort.
	Shutdown func(ctx context.Context)
	// Reachable reports liveness independent of in-memory state. Defaults to true.
	Reachable func(ctx context.Context) bool
	// PreExecution/PostExecution are no-op hook points around the action call.
	PreExecution  func(ctx context.Context, n *Node)
	PostExecution func(ctx context.Context, n *Node, result ActionResult)
	// NextNodePolicy reports how the step loop should resume after a manual
	// recovery from this node's failure. Default is Next.
	NextNodePolicy func() ErrorNextStep
	// SaveProperties persists any node-specific properties (calibration data,
	// firmware version, ...) after a successful restart. Optional.
	SaveProperties func(ctx context.Context, store PropertyStore)
}

// PropertyStore is the narrow persistence surface a node's SaveProperties
// hook needs; internal/store.Store implements it.
type PropertyStore interface {
	SaveNodeProperty(ctx context.Context, nodeID, name, value string) error
}

// CallRecorder persists the NodeCallRecord/ExecutionRecord rows.
// internal/store.Store implements it; kept as a narrow interface so this
// package never imports internal/store.
type CallRecorder interface {
	InsertNodeCallRecord(ctx context.Context, nodeID, endpoint, message string, duration time.Duration, outcome string) error
	InsertExecutionRecord(ctx context.Context, taskID string, workflowID int, label string, start, end time.Time) error
	UpdateNodeState(ctx context.Context, nodeID string, state int) error
}

// EventPublisher is the narrow eventbus surface a node uses to announce
// state transitions; internal/core/eventbus.Bus implements it.
type EventPublisher interface {
	NodeStateChanged(ctx context.Context, nodeID, state string)
}

// Node is a single shared instrument.
type Node struct {
	ID   string
	Name string

	hooks Hooks

	mu            sync.Mutex
	state         State
	currentTaskID string

	store  CallRecorder
	events EventPublisher
	logger *slog.Logger
	tracer trace.Tracer

	gateWaitMS  metric.Float64Histogram
	callSuccess metric.Int64Counter
	callError   metric.Int64Counter
}

// Deps bundles the collaborators a Node needs beyond its own hooks.
type Deps struct {
	Store      CallRecorder
	Events     EventPublisher
	Logger     *slog.Logger
	Tracer     trace.Tracer
	GateWaitMS metric.Float64Histogram
	CallOK     metric.Int64Counter
	CallErr    metric.Int64Counter
}

// New constructs a Node in the AVAILABLE state.
func New(id, name string, hooks Hooks, deps Deps) *Node {
	if hooks.Reachable == nil {
		hooks.Reachable = func(context.Context) bool { return true }
	}
	if hooks.NextNodePolicy == nil {
		hooks.NextNodePolicy = func() ErrorNextStep { return Next }
	}
	if hooks.Action == nil {
		hooks.Action = func(context.Context, *Node, *Node, string, map[string]any) ActionResult {
			return ActionResult{Status: 0}
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		ID:          id,
		Name:        name,
		hooks:       hooks,
		state:       Available,
		store:       deps.Store,
		events:      deps.Events,
		logger:      logger.With("node", name),
		tracer:      deps.Tracer,
		gateWaitMS:  deps.GateWaitMS,
		callSuccess: deps.CallOK,
		callError:   deps.CallErr,
	}
}

func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) IsError() bool {
	return n.State() == Error
}

// IsUsable reports reachable() AND state != ERROR.
func (n *Node) IsUsable(ctx context.Context) bool {
	if n.IsError() {
		return false
	}
	return n.hooks.Reachable(ctx)
}

// NextNodePolicy reports this node's resume policy after manual recovery.
func (n *Node) NextNodePolicy() ErrorNextStep {
	return n.hooks.NextNodePolicy()
}

// Execute acquires the node's gate, runs the action hook, and records the
// outcome in a fixed order: acquisition wait, pre-hook, action, post-hook,
// call/execution records, then state transition.
func (n *Node) Execute(ctx context.Context, taskID string, workflowID int, src, dst *Node, args map[string]any) (int, string) {
	tAcqStart := time.Now()

	n.mu.Lock()
	tAcqEnd := time.Now()
	defer n.mu.Unlock()

	if n.store != nil {
		_ = n.store.InsertExecutionRecord(ctx, taskID, workflowID, "w. acc.", tAcqStart, tAcqEnd)
	}
	if n.gateWaitMS != nil {
		n.gateWaitMS.Record(ctx, float64(tAcqEnd.Sub(tAcqStart).Milliseconds()),
			metric.WithAttributes(attribute.String("node", n.ID)))
	}

	n.currentTaskID = taskID
	n.setState(ctx, InUse)

	if n.hooks.PreExecution != nil {
		n.hooks.PreExecution(ctx, n)
	}

	var span trace.Span
	if n.tracer != nil {
		ctx, span = n.tracer.Start(ctx, "node.execute", trace.WithAttributes(attribute.String("node", n.ID)))
	}
	tRunStart := time.Now()
	result := n.hooks.Action(ctx, src, dst, taskID, args)
	if span != nil {
		span.End()
	}

	if result.Status != 0 {
		n.setState(ctx, Error)
		if n.store != nil {
			_ = n.store.InsertNodeCallRecord(ctx, n.ID, result.Endpoint, result.Message, time.Since(tRunStart), "error")
		}
		if n.callError != nil {
			n.callError.Add(ctx, 1, metric.WithAttributes(attribute.String("node", n.ID)))
		}
		n.currentTaskID = ""
		n.logger.Error("node execution failed", "task_id", taskID, "status", result.Status, "message", result.Message)
		return result.Status, result.Message
	}

	if n.hooks.PostExecution != nil {
		n.hooks.PostExecution(ctx, n, result)
	}
	if n.store != nil {
		_ = n.store.InsertNodeCallRecord(ctx, n.ID, result.Endpoint, result.Message, time.Since(tRunStart), "success")
		_ = n.store.InsertExecutionRecord(ctx, taskID, workflowID, n.ID, tRunStart, time.Now())
	}
	if n.callSuccess != nil {
		n.callSuccess.Add(ctx, 1, metric.WithAttributes(attribute.String("node", n.ID)))
	}

	n.setState(ctx, Available)
	n.currentTaskID = ""
	return 0, ""
}

// Restart invokes the user-supplied restart hook; on success transitions to
// AVAILABLE, on failure leaves state unchanged.
func (n *Node) Restart(ctx context.Context) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.hooks.Restart == nil {
		n.setState(ctx, Available)
		return 0
	}

	prev := n.state
	n.state = Restarting
	status := n.hooks.Restart(ctx)
	if status != 0 {
		n.state = prev
		n.logger.Error("node restart failed", "status", status)
		return status
	}

	n.setState(ctx, Available)
	if n.hooks.SaveProperties != nil && n.store != nil {
		if ps, ok := n.store.(PropertyStore); ok {
			n.hooks.SaveProperties(ctx, ps)
		}
	}
	n.logger.Info("node restarted")
	return 0
}

// Shutdown invokes the user-supplied shutdown hook and unconditionally
// transitions to OFFLINE.
func (n *Node) Shutdown(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.hooks.Shutdown != nil {
		n.hooks.Shutdown(ctx)
	}
	n.setState(ctx, Offline)
	n.logger.Info("node shut down")
}

// Serialize returns the wire representation of a node.
type Serialized struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
	Online bool    `json:"online"`
	TaskID *string `json:"task_id"`
}

func (n *Node) Serialize(ctx context.Context) Serialized {
	n.mu.Lock()
	defer n.mu.Unlock()

	var taskID *string
	if n.currentTaskID != "" {
		t := n.currentTaskID
		taskID = &t
	}
	return Serialized{
		ID:     n.ID,
		Name:   n.Name,
		Status: n.state.String(),
		Online: n.hooks.Reachable(ctx) && n.state != Error,
		TaskID: taskID,
	}
}

// setState must be called with n.mu held; it persists the new state and
// publishes a lifecycle event.
func (n *Node) setState(ctx context.Context, s State) {
	n.state = s
	if n.store != nil {
		if err := n.store.UpdateNodeState(ctx, n.ID, stateID(s)); err != nil {
			n.logger.Warn("failed to persist node state", "error", err)
		}
	}
	if n.events != nil {
		n.events.NodeStateChanged(ctx, n.ID, s.String())
	}
}

// stateID maps the in-memory enum to the persisted node_states.id, which
// mirrors the enum ordering exactly.
func stateID(s State) int {
	return int(s)
}

func (n *Node) String() string {
	return n.Name
}
