// Package httpapi is the external HTTP surface over the orchestrator core.
// It owns everything the core intentionally does not: routing, auth,
// request validation, and status-code mapping. The core never imports this
// package.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/swisscatplus/glas/internal/core/resilience"
	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/orchestrator"
	"github.com/swisscatplus/glas/internal/store"
	"github.com/swisscatplus/glas/internal/task"
	"github.com/swisscatplus/glas/internal/workflow"
)

// Orchestrator is the narrow surface the HTTP layer drives.
type Orchestrator interface {
	Start(ctx context.Context) orchestrator.ErrorCode
	Stop(ctx context.Context) orchestrator.ErrorCode
	State() orchestrator.State
	IsRunning() bool
	LoadConfig(ctx context.Context, nodesBlob, workflowsBlob []byte) orchestrator.ErrorCode
	AddTask(ctx context.Context, wf *workflow.Workflow, args map[string]any) (*task.Task, error)
	PauseTask(id string) orchestrator.ErrorCode
	ContinueTask(ctx context.Context, id string) orchestrator.ErrorCode
	RestartNode(ctx context.Context, id string) orchestrator.ErrorCode
	GetAllNodes() []*node.Node
	GetWorkflows() []*workflow.Workflow
	GetWorkflowByName(name string) *workflow.Workflow
	GetTaskByID(id string) *task.Task
	GetRunningTasks() []*task.Task
}

// Store is the narrow persistence surface the HTTP layer reads directly,
// for routes the in-memory registries don't serve (logs, execution logs,
// task lookups after a restart).
type Store interface {
	GetTask(ctx context.Context, uuid string) (*store.TaskRow, error)
	RecentLogs(ctx context.Context) ([]store.LogRow, error)
	ExecutionLogs(ctx context.Context) ([]store.ExecutionLogRow, error)
	InsertAccessLog(ctx context.Context, host string, authorized bool, identifier *string, path, method string) error
}

// Deps bundles the collaborators Server needs.
type Deps struct {
	Orchestrator  Orchestrator
	Store         Store
	Logger        *slog.Logger
	JWTSecret     []byte
	AuthorizedIPs []string
	RateLimiter   *resilience.HybridRateLimiter
}

// Server wires the route table, middleware pipeline, and a second
// localhost-only server for /token and pprof.
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Server. Call Handler to get the net/http handler for the
// main (non-localhost-only) listener.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the main surface's handler, wrapped in the
// allow-list -> auth -> access-log -> (rate-limit for /task/) pipeline.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.accessLogMiddleware(h)
	h = s.authMiddleware(h)
	h = s.ipAllowlistMiddleware(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /orchestrator/start", s.handleOrchestratorStart)
	s.mux.HandleFunc("DELETE /orchestrator/stop", s.handleOrchestratorStop)
	s.mux.HandleFunc("GET /orchestrator/status", s.handleOrchestratorStatus)

	s.mux.Handle("POST /task/", s.rateLimited(http.HandlerFunc(s.handleTaskCreate)))
	s.mux.HandleFunc("GET /task/running", s.handleTaskRunning)
	s.mux.HandleFunc("PATCH /task/pause/{id}", s.handleTaskPause)
	s.mux.HandleFunc("PATCH /task/continue/{id}", s.handleTaskContinue)
	s.mux.HandleFunc("GET /task/{id}", s.handleTaskGet)

	s.mux.HandleFunc("PATCH /node/restart/{id}", s.handleNodeRestart)
	s.mux.HandleFunc("GET /node/status/{id}", s.handleNodeStatus)

	s.mux.HandleFunc("GET /workflow/", s.handleWorkflowList)

	s.mux.HandleFunc("PATCH /config/reload", s.handleConfigReload)

	s.mux.HandleFunc("GET /logs/", s.handleLogs)
	s.mux.HandleFunc("GET /logs/execution", s.handleExecutionLogs)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.deps.RateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.RateLimiter.Allow(r.Context()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewTokenServer builds the separate localhost-only server exposing
// /token/{id} and pprof. It must be bound to 127.0.0.1, never 0.0.0.0.
func NewTokenServer(deps Deps) *http.Server {
	mux := http.NewServeMux()
	s := &Server{deps: deps, logger: deps.Logger, mux: mux}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	mux.HandleFunc("POST /token/{id}", s.handleIssueToken)
	registerPprof(mux)
	return &http.Server{
		Addr:         "127.0.0.1:0",
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
