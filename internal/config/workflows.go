package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/orchestrator"
	"github.com/swisscatplus/glas/internal/workflow"
)

// ArgSpecConfig is one entry of a workflow's declared argument schema.
type ArgSpecConfig struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	MaxItems  *int     `json:"max_items,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// WorkflowConfig is one entry of the workflows.json array. ID must match
// the workflows.id row already present in the relational store, since
// task/workflow-usage persistence is keyed by it.
type WorkflowConfig struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Steps []string        `json:"steps"` // node ids, in order
	Args  []ArgSpecConfig `json:"args,omitempty"`
}

// NewWorkflowFactory builds an orchestrator.WorkflowFactory. It needs no
// dependencies of its own beyond the node list the orchestrator already
// loaded.
func NewWorkflowFactory() orchestrator.WorkflowFactory {
	return func(ctx context.Context, blob []byte, nodes []*node.Node) ([]*workflow.Workflow, error) {
		var configs []WorkflowConfig
		if err := json.Unmarshal(blob, &configs); err != nil {
			return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfigParse, err)
		}
		if len(configs) == 0 {
			return nil, fmt.Errorf("%w: empty workflow list", orchestrator.ErrConfigParse)
		}

		byID := make(map[string]*node.Node, len(nodes))
		for _, n := range nodes {
			byID[n.ID] = n
		}

		workflows := make([]*workflow.Workflow, 0, len(configs))
		for _, c := range configs {
			steps := make([]*node.Node, 0, len(c.Steps))
			for _, id := range c.Steps {
				n, ok := byID[id]
				if !ok {
					return nil, fmt.Errorf("%w: workflow %q references unknown node %q", orchestrator.ErrConfigParse, c.Name, id)
				}
				steps = append(steps, n)
			}

			args := make([]workflow.ArgSpec, len(c.Args))
			for i, a := range c.Args {
				args[i] = workflow.ArgSpec{
					Name:      a.Name,
					Type:      a.Type,
					Required:  a.Required,
					Minimum:   a.Minimum,
					Maximum:   a.Maximum,
					MaxLength: a.MaxLength,
					MaxItems:  a.MaxItems,
					Pattern:   a.Pattern,
				}
			}

			wf, err := workflow.New(c.ID, c.Name, steps, args)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfigParse, err)
			}
			workflows = append(workflows, wf)
		}
		return workflows, nil
	}
}
