package workflow

import (
	"context"
	"testing"

	"github.com/swisscatplus/glas/internal/node"
)

func newTestNode(id string) *node.Node {
	return node.New(id, id, node.Hooks{}, node.Deps{})
}

func TestNewRejectsTooFewSteps(t *testing.T) {
	if _, err := New(1, "solo", []*node.Node{newTestNode("a")}, nil); err == nil {
		t.Fatalf("expected error for single-step workflow")
	}
}

func TestSourceAndDestination(t *testing.T) {
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
	wf, err := New(1, "chain", []*node.Node{a, b, c}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.Source() != a {
		t.Fatalf("expected source a")
	}
	if wf.Destination() != c {
		t.Fatalf("expected destination c")
	}
}

func TestAnyUnreachableFromIsSuffixOnly(t *testing.T) {
	a := newTestNode("a")
	b := node.New("b", "b", node.Hooks{
		Reachable: func(context.Context) bool { return false },
	}, node.Deps{})
	c := newTestNode("c")
	wf, _ := New(1, "chain", []*node.Node{a, b, c}, nil)

	if wf.AnyUnreachableFrom(context.Background(), 2) {
		t.Fatalf("expected no unreachable nodes from index 2 onward")
	}
	if !wf.AnyUnreachableFrom(context.Background(), 1) {
		t.Fatalf("expected unreachable node b detected from index 1 onward")
	}
}
