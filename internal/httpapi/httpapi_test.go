package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swisscatplus/glas/internal/node"
	"github.com/swisscatplus/glas/internal/orchestrator"
	"github.com/swisscatplus/glas/internal/store"
	"github.com/swisscatplus/glas/internal/task"
	"github.com/swisscatplus/glas/internal/workflow"
)

type fakeOrchestrator struct {
	running      bool
	startCode    orchestrator.ErrorCode
	workflowsByN map[string]*workflow.Workflow
	addTaskErr   error
	addedTask    *task.Task
}

func (f *fakeOrchestrator) Start(ctx context.Context) orchestrator.ErrorCode {
	f.running = true
	return f.startCode
}
func (f *fakeOrchestrator) Stop(ctx context.Context) orchestrator.ErrorCode {
	f.running = false
	return orchestrator.OK
}
func (f *fakeOrchestrator) State() orchestrator.State {
	if f.running {
		return orchestrator.Running
	}
	return orchestrator.Stopped
}
func (f *fakeOrchestrator) IsRunning() bool { return f.running }
func (f *fakeOrchestrator) LoadConfig(ctx context.Context, nodesBlob, workflowsBlob []byte) orchestrator.ErrorCode {
	return orchestrator.OK
}
func (f *fakeOrchestrator) AddTask(ctx context.Context, wf *workflow.Workflow, args map[string]any) (*task.Task, error) {
	if f.addTaskErr != nil {
		return nil, f.addTaskErr
	}
	return f.addedTask, nil
}
func (f *fakeOrchestrator) PauseTask(id string) orchestrator.ErrorCode { return orchestrator.ContentNotFound }
func (f *fakeOrchestrator) ContinueTask(ctx context.Context, id string) orchestrator.ErrorCode {
	return orchestrator.ContentNotFound
}
func (f *fakeOrchestrator) RestartNode(ctx context.Context, id string) orchestrator.ErrorCode {
	return orchestrator.ContentNotFound
}
func (f *fakeOrchestrator) GetAllNodes() []*node.Node          { return nil }
func (f *fakeOrchestrator) GetWorkflows() []*workflow.Workflow { return nil }
func (f *fakeOrchestrator) GetWorkflowByName(name string) *workflow.Workflow {
	return f.workflowsByN[name]
}
func (f *fakeOrchestrator) GetTaskByID(id string) *task.Task { return nil }
func (f *fakeOrchestrator) GetRunningTasks() []*task.Task    { return nil }

type fakeStore struct{}

func (fakeStore) GetTask(ctx context.Context, uuid string) (*store.TaskRow, error) { return nil, nil }
func (fakeStore) RecentLogs(ctx context.Context) ([]store.LogRow, error)          { return nil, nil }
func (fakeStore) ExecutionLogs(ctx context.Context) ([]store.ExecutionLogRow, error) {
	return nil, nil
}
func (fakeStore) InsertAccessLog(ctx context.Context, host string, authorized bool, identifier *string, path, method string) error {
	return nil
}

func newTestServer(orch Orchestrator) *Server {
	return New(Deps{Orchestrator: orch, Store: fakeStore{}, JWTSecret: []byte("test-secret")})
}

func TestOrchestratorStartReturnsNoContent(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator/start", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestOrchestratorStartIdempotentReturnsConflict(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{startCode: orchestrator.Cancelled, running: true})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator/start", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestTaskCreateRejectedWhenOrchestratorNotRunning(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{running: false})
	req := httptest.NewRequest(http.MethodPost, "/task/", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestNodeStatusUnknownReturnsNotFound(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{running: true})
	req := httptest.NewRequest(http.MethodGet, "/node/status/ghost", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestIPAllowlistRejectsUnlistedRemote(t *testing.T) {
	s := New(Deps{Orchestrator: &fakeOrchestrator{}, AuthorizedIPs: []string{"10.0.0.5"}})
	req := httptest.NewRequest(http.MethodGet, "/orchestrator/status", nil)
	req.RemoteAddr = "192.168.1.9:4455"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := New(Deps{Orchestrator: &fakeOrchestrator{}, JWTSecret: []byte("secret")})
	req := httptest.NewRequest(http.MethodGet, "/orchestrator/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
