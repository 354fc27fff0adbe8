package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/workflow"
)

func newNode(t *testing.T, id string, status int) *node.Node {
	t.Helper()
	return node.New(id, id, node.Hooks{
		Action: func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
			return node.ActionResult{Status: status}
		},
	}, node.Deps{})
}

func newWorkflow(t *testing.T, nodes ...*node.Node) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.New(1, "wf", nodes, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return wf
}

func runAndWait(t *testing.T, tk *Task) {
	t.Helper()
	done := make(chan struct{})
	go tk.Run(context.Background(), func(*Task) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish in time")
	}
}

func TestRunSucceedsThroughAllSteps(t *testing.T) {
	a := newNode(t, "a", 0)
	b := newNode(t, "b", 0)
	wf := newWorkflow(t, a, b)
	tk := New(wf, nil, Deps{})

	runAndWait(t, tk)

	if tk.State() != Finished {
		t.Fatalf("expected FINISHED, got %s", tk.State())
	}
}

func TestRunParksOnFailureThenContinues(t *testing.T) {
	a := newNode(t, "a", 0)

	var bStatus atomic.Int32
	bStatus.Store(1)
	b := node.New("b", "b", node.Hooks{
		Action: func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
			return node.ActionResult{Status: int(bStatus.Load())}
		},
		Restart: func(ctx context.Context) int { bStatus.Store(0); return 0 },
	}, node.Deps{})
	c := newNode(t, "c", 0)
	wf := newWorkflow(t, a, b, c)
	tk := New(wf, nil, Deps{})

	done := make(chan struct{})
	go tk.Run(context.Background(), func(*Task) { close(done) })

	deadline := time.After(2 * time.Second)
	for !tk.IsPaused() {
		select {
		case <-deadline:
			t.Fatalf("task never parked")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := tk.Continue(context.Background()); err != nil {
		t.Fatalf("unexpected continue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish after continue")
	}

	if tk.State() != Finished {
		t.Fatalf("expected FINISHED after continue, got %s", tk.State())
	}
}

func TestStopDuringParkTransitionsError(t *testing.T) {
	a := node.New("a", "a", node.Hooks{
		Action: func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
			return node.ActionResult{Status: 99}
		},
	}, node.Deps{})
	b := newNode(t, "b", 0)
	wf := newWorkflow(t, a, b)
	tk := New(wf, nil, Deps{})

	done := make(chan struct{})
	go tk.Run(context.Background(), func(*Task) { close(done) })

	deadline := time.After(2 * time.Second)
	for !tk.IsPaused() {
		select {
		case <-deadline:
			t.Fatalf("task never parked")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	tk.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not exit after stop")
	}

	if tk.State() != TaskError {
		t.Fatalf("expected ERROR after stop, got %s", tk.State())
	}
}

