package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/task"
	"github.com/swisscatplus/glas/internal/workflow"
)

func testNode(id string) *node.Node {
	return node.New(id, id, node.Hooks{
		Action: func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
			return node.ActionResult{Status: 0}
		},
	}, node.Deps{})
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	// Start loads configuration from the configured paths; the factories
	// below ignore the blobs, so the files only need to exist.
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.json")
	workflowsPath := filepath.Join(dir, "workflows.json")
	for _, p := range []string{nodesPath, workflowsPath} {
		if err := os.WriteFile(p, []byte("[]"), 0o600); err != nil {
			t.Fatalf("write config file: %v", err)
		}
	}
	return New(Config{
		NodesPath:     nodesPath,
		WorkflowsPath: workflowsPath,
		LoadNodes: func(ctx context.Context, blob []byte) ([]*node.Node, error) {
			return []*node.Node{testNode("a"), testNode("b")}, nil
		},
		LoadWorkflows: func(ctx context.Context, blob []byte, nodes []*node.Node) ([]*workflow.Workflow, error) {
			wf, err := workflow.New(1, "demo", nodes, nil)
			if err != nil {
				return nil, err
			}
			return []*workflow.Workflow{wf}, nil
		},
		TaskDeps: func(uuid string) task.Deps { return task.Deps{} },
	})
}

func TestStartIsIdempotent(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	if code := o.Start(ctx); code != OK {
		t.Fatalf("expected OK, got %v", code)
	}
	if code := o.Start(ctx); code != Cancelled {
		t.Fatalf("expected CANCELLED on second start, got %v", code)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()

	if code := o.Stop(ctx); code != Cancelled {
		t.Fatalf("expected CANCELLED when stopping an already-stopped orchestrator, got %v", code)
	}

	o.Start(ctx)
	if code := o.Stop(ctx); code != OK {
		t.Fatalf("expected OK, got %v", code)
	}
}

func TestAddTaskRunsToCompletion(t *testing.T) {
	o := newOrchestrator(t)
	ctx := context.Background()
	o.Start(ctx)

	wf := o.GetWorkflowByName("demo")
	if wf == nil {
		t.Fatalf("expected demo workflow to be loaded")
	}

	tk, err := o.AddTask(ctx, wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for o.GetTaskByID(tk.UUID) != nil {
		select {
		case <-deadline:
			t.Fatalf("task never reaped from registry")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if tk.State() != task.Finished {
		t.Fatalf("expected task to finish, got %s", tk.State())
	}
}

func TestAddTaskSurvivesCallerContextCancellation(t *testing.T) {
	o := newOrchestrator(t)
	o.Start(context.Background())

	wf := o.GetWorkflowByName("demo")
	if wf == nil {
		t.Fatalf("expected demo workflow to be loaded")
	}

	// Mimics an http.Request's context: cancelled the instant the call that
	// submitted the task returns, as real handlers do once ServeHTTP exits.
	reqCtx, cancel := context.WithCancel(context.Background())
	tk, err := o.AddTask(reqCtx, wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for o.GetTaskByID(tk.UUID) != nil {
		select {
		case <-deadline:
			t.Fatalf("task never reaped from registry")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if tk.State() != task.Finished {
		t.Fatalf("expected task to finish despite caller context cancellation, got %s", tk.State())
	}
}

func TestRestartNodeNotFound(t *testing.T) {
	o := newOrchestrator(t)
	o.Start(context.Background())

	if code := o.RestartNode(context.Background(), "missing"); code != ContentNotFound {
		t.Fatalf("expected CONTENT_NOT_FOUND, got %v", code)
	}
}

func TestContinueTaskNotFound(t *testing.T) {
	o := newOrchestrator(t)
	if code := o.ContinueTask(context.Background(), "missing"); code != ContentNotFound {
		t.Fatalf("expected CONTENT_NOT_FOUND, got %v", code)
	}
}
