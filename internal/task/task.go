// Package task drives a single workflow walk: one goroutine per task,
// stepping through the workflow's nodes in order, parking on failure until
// an operator resumes or aborts it.
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/workflow"
)

// State is the task lifecycle (published states only; PAUSED is an
// in-memory alias for ACTIVE while parked and is never persisted).
type State int

const (
	Pending State = iota + 1
	Active
	Finished
	TaskError
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Finished:
		return "FINISHED"
	case TaskError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Store is the narrow persistence surface a task needs.
type Store interface {
	UpdateActiveStep(ctx context.Context, taskUUID string, nodeID string) error
	SetTaskState(ctx context.Context, taskUUID string, state int) error
}

// EventPublisher announces task lifecycle transitions.
type EventPublisher interface {
	TaskStateChanged(ctx context.Context, taskUUID, state string)
	StepExecuted(ctx context.Context, taskUUID, nodeID string, status int)
}

// Deps bundles a Task's collaborators.
type Deps struct {
	Store  Store
	Events EventPublisher
	Logger *slog.Logger
}

// Task walks a Workflow's steps in order for one invocation.
type Task struct {
	UUID      string
	Workflow  *workflow.Workflow
	Args      map[string]any
	StartTime time.Time

	store  Store
	events EventPublisher
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	stopFlag    bool
	currentStep int

	cond            *sync.Cond
	pauseLatch      bool // set by an operator pause or a failed step; cleared by Continue/Stop
	parkedByFailure bool // distinguishes resume-per-policy from plain i+1 on wake
}

// New constructs a task in the PENDING state with a freshly generated uuid.
func New(wf *workflow.Workflow, args map[string]any, deps Deps) *Task {
	return NewWithUUID(uuid.NewString(), wf, args, deps)
}

// NewWithUUID constructs a task using a caller-supplied uuid. Used by the
// orchestrator when per-task collaborators (store, events) must be wired
// with the same uuid the task will carry.
func NewWithUUID(taskUUID string, wf *workflow.Workflow, args map[string]any, deps Deps) *Task {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Task{
		UUID:        taskUUID,
		Workflow:    wf,
		Args:        args,
		StartTime:   time.Now(),
		store:       deps.Store,
		events:      deps.Events,
		logger:      logger,
		state:       Pending,
		currentStep: -1,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsPaused reports whether the task is parked, either by an operator pause
// (state ACTIVE) or by a failed step (state ERROR), distinct from the raw
// persisted state (PAUSED is never written to task_states).
func (t *Task) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauseLatch
}

func (t *Task) CurrentStep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStep
}

// Serialized is the wire representation of a task.
type Serialized struct {
	UUID        string `json:"uuid"`
	CurrentStep int    `json:"current_step"`
	State       string `json:"state"`
	Workflow    string `json:"workflow"`
}

func (t *Task) Serialize() Serialized {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.state.String()
	if t.state == Active && t.pauseLatch {
		state = "PAUSED"
	}
	return Serialized{
		UUID:        t.UUID,
		CurrentStep: t.currentStep,
		State:       state,
		Workflow:    t.Workflow.Name,
	}
}

func (t *Task) setState(ctx context.Context, s State) {
	t.state = s
	if t.store != nil {
		if err := t.store.SetTaskState(ctx, t.UUID, int(s)); err != nil {
			t.logger.Warn("failed to persist task state", "task", t.UUID, "error", err)
		}
	}
	if t.events != nil {
		t.events.TaskStateChanged(ctx, t.UUID, s.String())
	}
}

// Stop requests cancellation: observed at the next precondition check or on
// wake from a parked state. An in-flight node execution is never interrupted.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopFlag = true
	t.pauseLatch = false
	t.cond.Broadcast()
}

// Pause atomically sets the parked latch. The worker observes it only
// after finishing its current step, whether that step succeeded or
// failed, never mid-execution.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseLatch = true
}

var (
	// ErrRestartFailed is returned by Continue when a node restart fails.
	ErrRestartFailed = errors.New("task: node restart failed during continue")
)

// Continue restarts any ERROR/RECOVERY node along the workflow, then
// resumes the parked worker. Restart failures abort without resuming.
func (t *Task) Continue(ctx context.Context) error {
	for _, n := range t.Workflow.Steps {
		if n.State() == node.Error || n.State() == node.Recovery {
			if status := n.Restart(ctx); status != 0 {
				return ErrRestartFailed
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseLatch = false
	t.setState(ctx, Active)
	t.cond.Broadcast()
	return nil
}

// Run walks the workflow to completion or failure, blocking the calling
// goroutine for the task's entire lifetime. onDone is invoked exactly once
// on exit, regardless of outcome, so the orchestrator can reap the worker.
func (t *Task) Run(ctx context.Context, onDone func(*Task)) {
	t.mu.Lock()
	t.stopFlag = false
	t.setState(ctx, Pending)
	t.StartTime = time.Now()
	t.setState(ctx, Active)
	t.mu.Unlock()

	t.logger.Info("task started", "task", t.UUID, "workflow", t.Workflow.Name)

	t.loop(ctx)

	if onDone != nil {
		onDone(t)
	}
}

// loop is the iterative replacement for a self-recursive step walk: each
// iteration re-checks preconditions, executes one node, and either
// advances, parks, or exits.
func (t *Task) loop(ctx context.Context) {
	i := 0
	steps := t.Workflow.Steps

	for {
		t.mu.Lock()

		if t.stopFlag {
			t.currentStep = i
			t.setState(ctx, TaskError)
			t.logger.Error("task interrupted", "task", t.UUID, "step", i)
			t.mu.Unlock()
			return
		}

		if t.Workflow.AnyUnreachableFrom(ctx, i) {
			t.currentStep = i
			t.setState(ctx, TaskError)
			t.logger.Error("unreachable step in workflow", "task", t.UUID, "from_step", i)
			t.mu.Unlock()
			return
		}

		if i >= len(steps) {
			t.setState(ctx, Finished)
			t.logger.Info("task finished", "task", t.UUID)
			t.mu.Unlock()
			return
		}

		t.currentStep = i
		current := steps[i]
		var src, dst *node.Node
		if i > 0 {
			src = steps[i-1]
		}
		if i < len(steps)-1 {
			dst = steps[i+1]
		}
		t.mu.Unlock()

		if t.store != nil {
			if err := t.store.UpdateActiveStep(ctx, t.UUID, current.ID); err != nil {
				t.logger.Warn("failed to persist active step", "task", t.UUID, "error", err)
			}
		}

		status, message := current.Execute(ctx, t.UUID, t.Workflow.ID, src, dst, t.Args)
		if t.events != nil {
			t.events.StepExecuted(ctx, t.UUID, current.ID, status)
		}

		t.mu.Lock()
		if status != 0 {
			t.setState(ctx, TaskError)
			t.pauseLatch = true
			t.parkedByFailure = true
			t.logger.Error("node execution failed", "task", t.UUID, "node", current.ID, "status", status, "message", message)
		}

		// An operator pause requested mid-step is observed here too, after
		// the step has completed, whether it succeeded or failed.
		for t.pauseLatch {
			t.logger.Warn("task parked, waiting for continue", "task", t.UUID)
			t.cond.Wait()
		}

		if t.stopFlag {
			t.setState(ctx, TaskError)
			t.mu.Unlock()
			return
		}

		if t.parkedByFailure {
			t.parkedByFailure = false
			advance := int(current.NextNodePolicy())
			t.mu.Unlock()
			i += advance
			continue
		}
		t.mu.Unlock()

		i++
	}
}
