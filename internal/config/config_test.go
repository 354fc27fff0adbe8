package config

import (
	"context"
	"errors"
	"testing"

	"github.com/swisscatplus/glas/internal/orchestrator"
)

func TestNewNodeFactoryBuildsEmulatedNodes(t *testing.T) {
	factory := NewNodeFactory(NodeBuilderDeps{})
	blob := []byte(`[{"id":"n1","name":"Gripper"},{"id":"n2","name":"Scale","type":"emulated"}]`)

	nodes, err := factory(context.Background(), blob)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if !nodes[0].IsUsable(context.Background()) {
		t.Fatal("expected emulated node to be usable")
	}
}

func TestNewNodeFactoryRejectsUnknownType(t *testing.T) {
	factory := NewNodeFactory(NodeBuilderDeps{})
	blob := []byte(`[{"id":"n1","name":"X","type":"carrier-pigeon"}]`)

	if _, err := factory(context.Background(), blob); err == nil {
		t.Fatal("expected an error for an unknown node type")
	}
}

func TestNewNodeFactoryRejectsEmptyList(t *testing.T) {
	factory := NewNodeFactory(NodeBuilderDeps{})
	if _, err := factory(context.Background(), []byte(`[]`)); err == nil {
		t.Fatal("expected an error for an empty node list")
	}
}

func TestNewWorkflowFactoryBuildsChain(t *testing.T) {
	nodeFactory := NewNodeFactory(NodeBuilderDeps{})
	nodes, err := nodeFactory(context.Background(), []byte(`[{"id":"a","name":"A"},{"id":"b","name":"B"}]`))
	if err != nil {
		t.Fatalf("node factory: %v", err)
	}

	wfFactory := NewWorkflowFactory()
	blob := []byte(`[{"id":1,"name":"demo","steps":["a","b"],"args":[{"name":"speed","type":"integer","minimum":0,"maximum":100}]}]`)
	workflows, err := wfFactory(context.Background(), blob, nodes)
	if err != nil {
		t.Fatalf("workflow factory: %v", err)
	}
	if len(workflows) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(workflows))
	}
	if workflows[0].Source().ID != "a" || workflows[0].Destination().ID != "b" {
		t.Fatalf("unexpected source/destination: %v / %v", workflows[0].Source().ID, workflows[0].Destination().ID)
	}
}

func TestNewWorkflowFactoryRejectsUnknownNode(t *testing.T) {
	wfFactory := NewWorkflowFactory()
	blob := []byte(`[{"id":1,"name":"demo","steps":["ghost","b"]}]`)
	if _, err := wfFactory(context.Background(), blob, nil); err == nil {
		t.Fatal("expected an error for an unknown node reference")
	}
}

func TestWorkflowFactoryErrorsWrapConfigParse(t *testing.T) {
	wfFactory := NewWorkflowFactory()
	_, err := wfFactory(context.Background(), []byte(`not json`), nil)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !errors.Is(err, orchestrator.ErrConfigParse) {
		t.Fatalf("expected error to wrap orchestrator.ErrConfigParse, got %v", err)
	}
}
