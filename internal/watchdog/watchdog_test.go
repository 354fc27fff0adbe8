package watchdog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/swisscatplus/glas/internal/node"
)

func testNode(t *testing.T, id string, reachable func(context.Context) bool) *node.Node {
	t.Helper()
	return node.New(id, "instrument-"+id, node.Hooks{Reachable: reachable}, node.Deps{})
}

func TestWatchSchedulesAndPolls(t *testing.T) {
	cadence, err := OpenCadenceStore(filepath.Join(t.TempDir(), "cadence.db"))
	if err != nil {
		t.Fatalf("open cadence store: %v", err)
	}
	defer cadence.Close()
	if err := cadence.SetCadence("n1", 1); err != nil {
		t.Fatalf("set cadence: %v", err)
	}

	w, err := New(Deps{Cadence: cadence})
	if err != nil {
		t.Fatalf("new watchdog: %v", err)
	}

	polled := make(chan struct{}, 8)
	n := testNode(t, "n1", func(context.Context) bool {
		select {
		case polled <- struct{}{}:
		default:
		}
		return true
	})

	if err := w.Watch(context.Background(), n); err != nil {
		t.Fatalf("watch: %v", err)
	}
	w.Start()
	defer w.Stop(context.Background())

	select {
	case <-polled:
	case <-time.After(3 * time.Second):
		t.Fatal("expected at least one poll within 3s")
	}
}

func TestUnwatchStopsPolling(t *testing.T) {
	w, err := New(Deps{})
	if err != nil {
		t.Fatalf("new watchdog: %v", err)
	}
	n := testNode(t, "n2", func(context.Context) bool { return true })
	if err := w.Watch(context.Background(), n); err != nil {
		t.Fatalf("watch: %v", err)
	}
	w.Unwatch("n2")

	w.mu.Lock()
	_, ok := w.entries["n2"]
	w.mu.Unlock()
	if ok {
		t.Fatal("expected entry to be removed after Unwatch")
	}
}

func TestPollLogsUnreachableWithoutMutatingNode(t *testing.T) {
	w, err := New(Deps{})
	if err != nil {
		t.Fatalf("new watchdog: %v", err)
	}
	n := testNode(t, "n3", func(context.Context) bool { return false })

	w.poll(context.Background(), n)

	if n.IsError() {
		t.Fatal("watchdog must never mutate node state itself")
	}
}

func TestCadenceStoreRoundTrip(t *testing.T) {
	cadence, err := OpenCadenceStore(filepath.Join(t.TempDir(), "cadence.db"))
	if err != nil {
		t.Fatalf("open cadence store: %v", err)
	}
	defer cadence.Close()

	if _, ok, err := cadence.Cadence("missing"); err != nil || ok {
		t.Fatalf("expected no cadence for unset node, got ok=%v err=%v", ok, err)
	}

	if err := cadence.SetCadence("n1", 45); err != nil {
		t.Fatalf("set cadence: %v", err)
	}
	seconds, ok, err := cadence.Cadence("n1")
	if err != nil || !ok || seconds != 45 {
		t.Fatalf("unexpected cadence: seconds=%d ok=%v err=%v", seconds, ok, err)
	}

	all, err := cadence.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if all["n1"] != 45 {
		t.Fatalf("expected all() to include n1=45, got %v", all)
	}
}
