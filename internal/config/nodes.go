// Package config builds the node and workflow registries from JSON
// configuration blobs, and binds process environment variables through
// viper. It is the concrete factory behind orchestrator.NodeFactory and
// orchestrator.WorkflowFactory; the core itself never parses JSON.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/orchestrator"
)

// NodeConfig is one entry of the nodes.json array.
type NodeConfig struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"` // "emulated" or "http"
	Endpoint       string `json:"endpoint,omitempty"`
	HealthEndpoint string `json:"health_endpoint,omitempty"`
	TimeoutMS      int    `json:"timeout_ms,omitempty"`
	Critical       bool   `json:"critical,omitempty"`
	Static         bool   `json:"static,omitempty"`
	NextNodePolicy string `json:"next_node_policy,omitempty"` // "self" or "next", defaults to "next"
}

// NodeBuilderDeps bundles the collaborators every constructed node shares.
type NodeBuilderDeps struct {
	Store      node.CallRecorder
	Events     node.EventPublisher
	Logger     *slog.Logger
	Tracer     trace.Tracer
	GateWaitMS metric.Float64Histogram
	CallOK     metric.Int64Counter
	CallErr    metric.Int64Counter
}

// NewNodeFactory builds an orchestrator.NodeFactory closed over deps.
func NewNodeFactory(deps NodeBuilderDeps) orchestrator.NodeFactory {
	return func(ctx context.Context, blob []byte) ([]*node.Node, error) {
		var configs []NodeConfig
		if err := json.Unmarshal(blob, &configs); err != nil {
			return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfigParse, err)
		}
		if len(configs) == 0 {
			return nil, fmt.Errorf("%w: empty node list", orchestrator.ErrConfigParse)
		}

		nodes := make([]*node.Node, 0, len(configs))
		for _, c := range configs {
			hooks, err := buildHooks(c)
			if err != nil {
				return nil, fmt.Errorf("%w: node %q: %v", orchestrator.ErrConfigParse, c.ID, err)
			}
			n := node.New(c.ID, c.Name, hooks, node.Deps{
				Store:      deps.Store,
				Events:     deps.Events,
				Logger:     deps.Logger,
				Tracer:     deps.Tracer,
				GateWaitMS: deps.GateWaitMS,
				CallOK:     deps.CallOK,
				CallErr:    deps.CallErr,
			})
			nodes = append(nodes, n)
		}
		return nodes, nil
	}
}

func buildHooks(c NodeConfig) (node.Hooks, error) {
	policy := node.Next
	if c.NextNodePolicy == "self" {
		policy = node.Self
	}

	switch c.Type {
	case "", "emulated":
		return node.Hooks{
			Action: func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
				return node.ActionResult{Status: 0, Endpoint: "emulated"}
			},
			Restart:        func(ctx context.Context) int { return 0 },
			Shutdown:       func(ctx context.Context) {},
			Reachable:      func(ctx context.Context) bool { return true },
			NextNodePolicy: func() node.ErrorNextStep { return policy },
		}, nil
	case "http":
		if c.Endpoint == "" {
			return node.Hooks{}, fmt.Errorf("http node requires endpoint")
		}
		timeout := time.Duration(c.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client := &http.Client{Timeout: timeout}
		return node.Hooks{
			Action:         httpAction(client, c.Endpoint),
			Restart:        httpRestart(client, c.Endpoint),
			Shutdown:       func(ctx context.Context) {},
			Reachable:      httpReachable(client, c.HealthEndpoint),
			NextNodePolicy: func() node.ErrorNextStep { return policy },
		}, nil
	default:
		return node.Hooks{}, fmt.Errorf("unknown node type %q", c.Type)
	}
}

type httpActionRequest struct {
	TaskID string         `json:"task_id"`
	Source string         `json:"source,omitempty"`
	Dest   string         `json:"destination,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

type httpActionResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func httpAction(client *http.Client, endpoint string) func(context.Context, *node.Node, *node.Node, string, map[string]any) node.ActionResult {
	return func(ctx context.Context, src, dst *node.Node, taskID string, args map[string]any) node.ActionResult {
		body := httpActionRequest{TaskID: taskID, Args: args}
		if src != nil {
			body.Source = src.ID
		}
		if dst != nil {
			body.Dest = dst.ID
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return node.ActionResult{Status: 1, Message: err.Error(), Endpoint: endpoint}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return node.ActionResult{Status: 1, Message: err.Error(), Endpoint: endpoint}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return node.ActionResult{Status: 1, Message: err.Error(), Endpoint: endpoint}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return node.ActionResult{Status: resp.StatusCode, Message: "node endpoint returned an error status", Endpoint: endpoint}
		}

		var parsed httpActionResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return node.ActionResult{Status: 0, Endpoint: endpoint}
		}
		return node.ActionResult{Status: parsed.Status, Message: parsed.Message, Endpoint: endpoint}
	}
}

func httpRestart(client *http.Client, endpoint string) func(context.Context) int {
	return func(ctx context.Context) int {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/restart", nil)
		if err != nil {
			return 1
		}
		resp, err := client.Do(req)
		if err != nil {
			return 1
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return resp.StatusCode
		}
		return 0
	}
}

func httpReachable(client *http.Client, healthEndpoint string) func(context.Context) bool {
	if healthEndpoint == "" {
		return func(context.Context) bool { return true }
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthEndpoint, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode < 400
	}
}
