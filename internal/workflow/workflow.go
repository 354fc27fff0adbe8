// Package workflow models a named, ordered chain of nodes a task walks
// step by step. A workflow is immutable once built: its steps, source and
// destination are fixed at construction time.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/swisscatplus/glas/internal/node"
)

// ErrTooFewSteps is returned when fewer than two steps are supplied; a
// workflow with a single step has no distinct source and destination.
var ErrTooFewSteps = errors.New("workflow: at least two steps are required")

// ArgSpec describes one accepted task argument's validation shape.
type ArgSpec struct {
	Name      string
	Type      string // integer, float, string, boolean, array
	Required  bool
	Minimum   *float64
	Maximum   *float64
	MaxLength *int
	MaxItems  *int
	Pattern   string
}

// Workflow is a fixed chain of nodes with an associated argument schema.
type Workflow struct {
	ID    int
	Name  string
	Steps []*node.Node
	Args  []ArgSpec
}

// New builds a Workflow, rejecting fewer than two steps.
func New(id int, name string, steps []*node.Node, args []ArgSpec) (*Workflow, error) {
	if len(steps) < 2 {
		return nil, fmt.Errorf("%w: workflow %q has %d", ErrTooFewSteps, name, len(steps))
	}
	return &Workflow{ID: id, Name: name, Steps: steps, Args: args}, nil
}

// Source is the first node a task visits.
func (w *Workflow) Source() *node.Node {
	return w.Steps[0]
}

// Destination is the last node a task visits.
func (w *Workflow) Destination() *node.Node {
	return w.Steps[len(w.Steps)-1]
}

// Serialized is the wire representation of a workflow.
type Serialized struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Steps       []string `json:"steps"`
}

func (w *Workflow) Serialize() Serialized {
	steps := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = s.ID
	}
	return Serialized{
		ID:          w.ID,
		Name:        w.Name,
		Source:      w.Source().ID,
		Destination: w.Destination().ID,
		Steps:       steps,
	}
}

// AnyUnreachableFrom reports whether any node from index onward is
// currently unusable. The task step loop uses this as a suffix-only check:
// nodes already visited are never re-examined, since a node that failed
// earlier in the walk either already aborted the task or was manually
// recovered.
func (w *Workflow) AnyUnreachableFrom(ctx context.Context, index int) bool {
	for _, n := range w.Steps[index:] {
		if !n.IsUsable(ctx) {
			return true
		}
	}
	return false
}
