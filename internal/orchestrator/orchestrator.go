// Package orchestrator owns the process-wide registries of nodes, workflows
// and in-flight tasks, and exposes the handful of operations the HTTP
// surface dispatches to: start, stop, reload configuration, submit/pause/
// continue a task, restart a node.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swisscatplus/glas/internal/core/resilience"
	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/task"
	"github.com/swisscatplus/glas/internal/workflow"
)

// ErrConfigNotFound / ErrConfigParse let node and workflow factories report
// which of the two failure modes occurred without the orchestrator knowing
// anything about file formats.
var (
	ErrConfigNotFound = errors.New("orchestrator: configuration source not found")
	ErrConfigParse    = errors.New("orchestrator: configuration could not be parsed")
)

// Store is the narrow persistence surface the orchestrator itself needs;
// per-task and per-node persistence go through task.Store / node.CallRecorder.
type Store interface {
	Ping(ctx context.Context) error
	InsertTask(ctx context.Context, taskUUID string, workflowID int) error
	InsertWorkflowUsageRecord(ctx context.Context, workflowID int) error
}

// TaskDeps builds the collaborators a freshly created task needs; kept as a
// function so the orchestrator never has to know about store/event wiring
// details beyond Store and the callbacks below.
type TaskDeps func(uuid string) task.Deps

// NodeFactory builds the node registry from a raw configuration blob.
type NodeFactory func(ctx context.Context, blob []byte) ([]*node.Node, error)

// WorkflowFactory builds the workflow registry from a raw configuration
// blob, given the nodes already loaded by NodeFactory.
type WorkflowFactory func(ctx context.Context, blob []byte, nodes []*node.Node) ([]*workflow.Workflow, error)

type runningTask struct {
	tk *task.Task
}

// Orchestrator is the single top-level coordinator for one running process.
type Orchestrator struct {
	logger  *slog.Logger
	emulate bool

	nodesPath     string
	workflowsPath string

	loadNodes     NodeFactory
	loadWorkflows WorkflowFactory
	taskDeps      TaskDeps
	store         Store

	mu        sync.RWMutex
	state     State
	nodes     []*node.Node
	workflows []*workflow.Workflow

	// runCtx lives for exactly as long as the orchestrator is RUNNING: it is
	// created fresh in Start and cancelled in Stop. Task workers run under
	// it instead of whatever request context submitted them, since a task's
	// step loop regularly outlives the HTTP request that created it.
	runCtx    context.Context
	runCancel context.CancelFunc

	runningMu    sync.Mutex
	runningTasks []*runningTask
	wg           sync.WaitGroup

	startCallback func()
	stopCallback  func()

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// Config bundles the collaborators New needs.
type Config struct {
	Logger        *slog.Logger
	Emulate       bool
	NodesPath     string
	WorkflowsPath string
	LoadNodes     NodeFactory
	LoadWorkflows WorkflowFactory
	TaskDeps      TaskDeps
	Store         Store
}

// New constructs a stopped Orchestrator. In emulation mode it prints a
// banner to stdout warning that the run is not against live hardware.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Emulate {
		printEmulationBanner()
	}
	return &Orchestrator{
		logger:        logger,
		emulate:       cfg.Emulate,
		nodesPath:     cfg.NodesPath,
		workflowsPath: cfg.WorkflowsPath,
		loadNodes:     cfg.LoadNodes,
		loadWorkflows: cfg.LoadWorkflows,
		taskDeps:      cfg.TaskDeps,
		store:         cfg.Store,
		state:         Stopped,
		breakers:      make(map[string]*resilience.CircuitBreaker),
	}
}

func printEmulationBanner() {
	fmt.Println()
	fmt.Println("┏━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓")
	fmt.Println("┃                              !!! WARNING !!!                                 ┃")
	fmt.Println("┃       Running in EMULATION MODE. Nodes are simulated, not physical.          ┃")
	fmt.Println("┗━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛")
	fmt.Println()
}

func (o *Orchestrator) RegisterStartCallback(cb func()) { o.startCallback = cb }
func (o *Orchestrator) RegisterStopCallback(cb func())  { o.stopCallback = cb }

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) IsRunning() bool {
	return o.State() == Running
}

// GetAllNodes returns a snapshot of the node registry.
func (o *Orchestrator) GetAllNodes() []*node.Node {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*node.Node, len(o.nodes))
	copy(out, o.nodes)
	return out
}

// GetWorkflows returns a snapshot of the workflow registry.
func (o *Orchestrator) GetWorkflows() []*workflow.Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*workflow.Workflow, len(o.workflows))
	copy(out, o.workflows)
	return out
}

func (o *Orchestrator) GetWorkflowByName(name string) *workflow.Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, w := range o.workflows {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// GetTaskByID finds a running task by uuid, or nil.
func (o *Orchestrator) GetTaskByID(id string) *task.Task {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	for _, rt := range o.runningTasks {
		if rt.tk.UUID == id {
			return rt.tk
		}
	}
	return nil
}

// GetRunningTasks returns a snapshot of every task currently in the registry.
func (o *Orchestrator) GetRunningTasks() []*task.Task {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	out := make([]*task.Task, len(o.runningTasks))
	for i, rt := range o.runningTasks {
		out[i] = rt.tk
	}
	return out
}

func (o *Orchestrator) removeFinishedTask(tk *task.Task) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	for i, rt := range o.runningTasks {
		if rt.tk == tk {
			o.runningTasks = append(o.runningTasks[:i], o.runningTasks[i+1:]...)
			return
		}
	}
}

// LoadConfig clears and repopulates the node and workflow registries. A nil
// blob falls back to reading from the configured path. Callers must not
// invoke this while tasks are active; the HTTP surface enforces that.
func (o *Orchestrator) LoadConfig(ctx context.Context, nodesBlob, workflowsBlob []byte) ErrorCode {
	o.mu.Lock()
	defer o.mu.Unlock()

	if nodesBlob == nil {
		b, err := os.ReadFile(o.nodesPath)
		if err != nil {
			o.state = Errored
			o.logger.Error("nodes config file not found", "path", o.nodesPath, "error", err)
			return CouldNotFindConfiguration
		}
		nodesBlob = b
	}
	if workflowsBlob == nil {
		b, err := os.ReadFile(o.workflowsPath)
		if err != nil {
			o.state = Errored
			o.logger.Error("workflows config file not found", "path", o.workflowsPath, "error", err)
			return CouldNotFindConfiguration
		}
		workflowsBlob = b
	}

	o.nodes = nil
	nodes, err := o.loadNodes(ctx, nodesBlob)
	if err != nil {
		o.state = Errored
		if errors.Is(err, ErrConfigNotFound) {
			o.logger.Error("nodes config not found", "error", err)
			return CouldNotFindConfiguration
		}
		o.logger.Error("nodes config could not be parsed", "error", err)
		return CouldNotParseConfiguration
	}
	o.nodes = nodes

	if len(o.nodes) == 0 {
		o.logger.Error("no nodes found")
	} else {
		failed := 0
		for _, n := range o.nodes {
			if n.IsError() {
				failed++
			}
		}
		o.logger.Info("nodes loaded", "count", len(o.nodes)-failed)
		if failed > 0 {
			o.logger.Error("some nodes failed to load", "count", failed)
		}
	}

	o.workflows = nil
	workflows, err := o.loadWorkflows(ctx, workflowsBlob, o.nodes)
	if err != nil {
		o.state = Errored
		if errors.Is(err, ErrConfigNotFound) {
			o.logger.Error("workflows config not found", "error", err)
			return CouldNotFindConfiguration
		}
		o.logger.Error("workflows config could not be parsed", "error", err)
		return CouldNotParseConfiguration
	}
	o.workflows = workflows

	if len(o.workflows) == 0 {
		o.logger.Error("no workflows found")
	} else {
		o.logger.Info("workflows loaded", "count", len(o.workflows))
	}

	return OK
}

// Start transitions STOPPED -> RUNNING after verifying database connectivity
// and loading configuration. Idempotent: calling it while already RUNNING
// returns CANCELLED without side effects.
func (o *Orchestrator) Start(ctx context.Context) ErrorCode {
	o.mu.Lock()
	if o.state == Running {
		o.mu.Unlock()
		o.logger.Info("already running")
		return Cancelled
	}
	o.mu.Unlock()

	o.logger.Info("starting")

	if o.store != nil {
		_, err := resilience.Retry(ctx, 3, 200*time.Millisecond, func() (struct{}, error) {
			return struct{}{}, o.store.Ping(ctx)
		})
		if err != nil {
			o.logger.Error("database connection refused", "error", err)
			return DatabaseConnectionRefused
		}
	}

	if code := o.LoadConfig(ctx, nil, nil); code != OK {
		o.mu.Lock()
		o.state = Errored
		o.mu.Unlock()
		return code
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.runCtx = runCtx
	o.runCancel = runCancel
	o.state = Running
	o.mu.Unlock()
	o.logger.Info("started")

	if o.startCallback != nil {
		o.startCallback()
	}
	return OK
}

// Stop transitions to STOPPED, joining every running task worker and
// shutting down every node. Idempotent: returns CANCELLED if already
// STOPPED.
func (o *Orchestrator) Stop(ctx context.Context) ErrorCode {
	o.mu.Lock()
	if o.state == Stopped {
		o.mu.Unlock()
		o.logger.Info("already stopped")
		return Cancelled
	}
	o.mu.Unlock()

	if o.stopCallback != nil {
		o.stopCallback()
	}

	o.logger.Warn("stopping")

	o.runningMu.Lock()
	tasks := make([]*task.Task, len(o.runningTasks))
	for i, rt := range o.runningTasks {
		tasks[i] = rt.tk
	}
	o.runningMu.Unlock()

	for _, tk := range tasks {
		tk.Stop()
	}
	o.wg.Wait()

	o.runningMu.Lock()
	o.runningTasks = nil
	o.runningMu.Unlock()

	o.mu.Lock()
	if o.runCancel != nil {
		o.runCancel()
		o.runCtx, o.runCancel = nil, nil
	}
	for _, n := range o.nodes {
		n.Shutdown(ctx)
	}
	o.nodes = nil
	o.workflows = nil
	o.state = Stopped
	o.mu.Unlock()

	o.logger.Warn("stopped")
	return OK
}

// AddTask creates and launches a task for the given workflow, persisting a
// tasks row and a workflow_usage_records row before the worker starts. ctx
// only bounds the two synchronous inserts below; the worker itself runs
// under the orchestrator's own run-scoped context; a request context would
// be cancelled the moment the HTTP handler returns, long before a task's
// step loop finishes.
func (o *Orchestrator) AddTask(ctx context.Context, wf *workflow.Workflow, args map[string]any) (*task.Task, error) {
	o.mu.RLock()
	runCtx := o.runCtx
	o.mu.RUnlock()
	if runCtx == nil {
		return nil, fmt.Errorf("orchestrator: not running")
	}

	taskUUID := uuid.NewString()
	deps := task.Deps{}
	if o.taskDeps != nil {
		deps = o.taskDeps(taskUUID)
	}
	tk := task.NewWithUUID(taskUUID, wf, args, deps)

	if o.store != nil {
		if err := o.store.InsertTask(ctx, tk.UUID, wf.ID); err != nil {
			return nil, fmt.Errorf("orchestrator: insert task: %w", err)
		}
		if err := o.store.InsertWorkflowUsageRecord(ctx, wf.ID); err != nil {
			return nil, fmt.Errorf("orchestrator: insert workflow usage record: %w", err)
		}
	}

	o.runningMu.Lock()
	o.runningTasks = append(o.runningTasks, &runningTask{tk: tk})
	o.runningMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		tk.Run(runCtx, o.removeFinishedTask)
	}()

	return tk, nil
}

// PauseTask parks a running task.
func (o *Orchestrator) PauseTask(id string) ErrorCode {
	tk := o.GetTaskByID(id)
	if tk == nil {
		return ContentNotFound
	}
	tk.Pause()
	return OK
}

// ContinueTask restarts any recoverable nodes along the task's workflow and
// resumes it.
func (o *Orchestrator) ContinueTask(ctx context.Context, id string) ErrorCode {
	tk := o.GetTaskByID(id)
	if tk == nil {
		return ContentNotFound
	}
	o.logger.Info("continuing task", "task", id)
	if err := tk.Continue(ctx); err != nil {
		o.logger.Error("could not continue task", "task", id, "error", err)
		return ContinueTaskFailed
	}
	return OK
}

// RestartNode restarts the named node.
func (o *Orchestrator) RestartNode(ctx context.Context, id string) ErrorCode {
	for _, n := range o.GetAllNodes() {
		if n.ID == id {
			breaker := o.breakerFor(id)
			if !breaker.Allow() {
				o.logger.Error("restart circuit open, refusing to call node", "node", id)
				return RestartNodeFailed
			}
			o.logger.Info("restarting node", "node", id)
			status := n.Restart(ctx)
			breaker.RecordResult(status == 0)
			if status == 0 {
				return OK
			}
			o.logger.Error("could not restart node", "node", id)
			return RestartNodeFailed
		}
	}
	return ContentNotFound
}

// breakerFor returns the per-node restart circuit breaker, creating one on
// first use: a node that keeps failing to restart trips its own breaker
// without affecting restart attempts on any other node.
func (o *Orchestrator) breakerFor(nodeID string) *resilience.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	b, ok := o.breakers[nodeID]
	if !ok {
		b = resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 3, 0.5, 15*time.Second, 1)
		o.breakers[nodeID] = b
	}
	return b
}
