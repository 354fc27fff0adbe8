package node

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   []string
	states  []int
	execs   int
}

func (f *fakeStore) InsertNodeCallRecord(ctx context.Context, nodeID, endpoint, message string, duration time.Duration, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, outcome)
	return nil
}

func (f *fakeStore) InsertExecutionRecord(ctx context.Context, taskID string, workflowID int, label string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs++
	return nil
}

func (f *fakeStore) UpdateNodeState(ctx context.Context, nodeID string, state int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func TestExecuteSuccessTransitionsAvailable(t *testing.T) {
	store := &fakeStore{}
	n := New("n1", "Node1", Hooks{
		Action: func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult {
			return ActionResult{Status: 0}
		},
	}, Deps{Store: store})

	status, _ := n.Execute(context.Background(), "task-1", 1, nil, nil, nil)
	if status != 0 {
		t.Fatalf("expected status 0, got %d", status)
	}
	if n.State() != Available {
		t.Fatalf("expected AVAILABLE after success, got %s", n.State())
	}
	// two ExecutionRecords: "w. acc." and the node-labeled one
	if store.execs != 2 {
		t.Fatalf("expected 2 execution records, got %d", store.execs)
	}
	if len(store.calls) != 1 || store.calls[0] != "success" {
		t.Fatalf("expected one success call record, got %v", store.calls)
	}
}

func TestExecuteFailureTransitionsError(t *testing.T) {
	store := &fakeStore{}
	n := New("n1", "Node1", Hooks{
		Action: func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult {
			return ActionResult{Status: 42, Message: "jam", Endpoint: "/grip"}
		},
	}, Deps{Store: store})

	status, msg := n.Execute(context.Background(), "task-1", 1, nil, nil, nil)
	if status != 42 || msg != "jam" {
		t.Fatalf("expected (42, jam), got (%d, %s)", status, msg)
	}
	if n.State() != Error {
		t.Fatalf("expected ERROR, got %s", n.State())
	}
	if len(store.calls) != 1 || store.calls[0] != "error" {
		t.Fatalf("expected one error call record, got %v", store.calls)
	}
	// only the "w. acc." record on failure, no node-labeled success record
	if store.execs != 1 {
		t.Fatalf("expected 1 execution record on failure, got %d", store.execs)
	}
}

func TestGateSerializesConcurrentCallers(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	n := New("n1", "Node1", Hooks{
		Action: func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult {
			cur := atomic.AddInt32(&inFlight, 1)
			if cur > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, cur)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return ActionResult{Status: 0}
		},
	}, Deps{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Execute(context.Background(), "t", 1, nil, nil, nil)
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected gate to serialize access, max concurrent was %d", maxInFlight)
	}
}

func TestRestartRecoversFromError(t *testing.T) {
	n := New("n1", "Node1", Hooks{
		Action: func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult {
			return ActionResult{Status: 1}
		},
		Restart: func(ctx context.Context) int { return 0 },
	}, Deps{})

	n.Execute(context.Background(), "t", 1, nil, nil, nil)
	if n.State() != Error {
		t.Fatalf("expected ERROR before restart")
	}
	if status := n.Restart(context.Background()); status != 0 {
		t.Fatalf("expected restart to succeed, got %d", status)
	}
	if n.State() != Available {
		t.Fatalf("expected AVAILABLE after restart, got %s", n.State())
	}
}

func TestIsUsableReflectsReachabilityAndError(t *testing.T) {
	reachable := true
	n := New("n1", "Node1", Hooks{
		Reachable: func(ctx context.Context) bool { return reachable },
		Action: func(ctx context.Context, src, dst *Node, taskID string, args map[string]any) ActionResult {
			return ActionResult{Status: 1}
		},
	}, Deps{})

	if !n.IsUsable(context.Background()) {
		t.Fatalf("expected usable by default")
	}
	reachable = false
	if n.IsUsable(context.Background()) {
		t.Fatalf("expected unusable when unreachable")
	}
	reachable = true
	n.Execute(context.Background(), "t", 1, nil, nil, nil)
	if n.IsUsable(context.Background()) {
		t.Fatalf("expected unusable in ERROR state while reachable")
	}
}
