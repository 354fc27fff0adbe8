package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/swisscatplus/glas/internal/orchestrator"
)

// codeToStatus maps an orchestrator.ErrorCode to the status the route's
// contract calls for. Each handler still special-cases the handful of
// routes where the same code maps to a different status (e.g. Cancelled on
// /orchestrator/start vs /orchestrator/stop both mean 409, but OK means 204
// on one route and a 200-with-body on another).
func codeToStatus(code orchestrator.ErrorCode) int {
	switch code {
	case orchestrator.OK:
		return http.StatusNoContent
	case orchestrator.Cancelled:
		return http.StatusConflict
	case orchestrator.CouldNotFindConfiguration, orchestrator.CouldNotParseConfiguration:
		return http.StatusInternalServerError
	case orchestrator.DatabaseConnectionRefused:
		return http.StatusInternalServerError
	case orchestrator.ContentNotFound:
		return http.StatusNotFound
	case orchestrator.ContinueTaskFailed, orchestrator.RestartNodeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleOrchestratorStart(w http.ResponseWriter, r *http.Request) {
	code := s.deps.Orchestrator.Start(r.Context())
	w.WriteHeader(codeToStatus(code))
}

func (s *Server) handleOrchestratorStop(w http.ResponseWriter, r *http.Request) {
	code := s.deps.Orchestrator.Stop(r.Context())
	w.WriteHeader(codeToStatus(code))
}

func (s *Server) handleOrchestratorStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orchestrator.IsRunning() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusGone)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Orchestrator.IsRunning() {
		http.Error(w, "orchestrator not running", http.StatusTeapot)
		return
	}

	var body struct {
		Workflow string         `json:"workflow"`
		Args     map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	wf := s.deps.Orchestrator.GetWorkflowByName(body.Workflow)
	if wf == nil {
		http.Error(w, "unknown workflow", http.StatusNotFound)
		return
	}

	if err := validateArgs(wf.Args, body.Args); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tk, err := s.deps.Orchestrator.AddTask(r.Context(), wf, body.Args)
	if err != nil {
		s.logger.Error("could not add task", "workflow", body.Workflow, "error", err)
		http.Error(w, "could not add task", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tk.Serialize())
}

func (s *Server) handleTaskRunning(w http.ResponseWriter, r *http.Request) {
	tasks := s.deps.Orchestrator.GetRunningTasks()
	out := make([]any, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.Serialize()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	code := s.deps.Orchestrator.PauseTask(id)
	w.WriteHeader(codeToStatus(code))
}

func (s *Server) handleTaskContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	code := s.deps.Orchestrator.ContinueTask(r.Context(), id)
	w.WriteHeader(codeToStatus(code))
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if tk := s.deps.Orchestrator.GetTaskByID(id); tk != nil {
		writeJSON(w, http.StatusOK, tk.Serialize())
		return
	}

	if s.deps.Store == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	row, err := s.deps.Store.GetTask(r.Context(), id)
	if err != nil {
		s.logger.Error("could not fetch task", "task", id, "error", err)
		http.Error(w, "could not fetch task", http.StatusInternalServerError)
		return
	}
	if row == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleNodeRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	code := s.deps.Orchestrator.RestartNode(r.Context(), id)
	w.WriteHeader(codeToStatus(code))
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, n := range s.deps.Orchestrator.GetAllNodes() {
		if n.ID == id {
			writeJSON(w, http.StatusOK, n.Serialize(r.Context()))
			return
		}
	}
	http.Error(w, "unknown node", http.StatusNotFound)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	workflows := s.deps.Orchestrator.GetWorkflows()
	out := make([]any, len(workflows))
	for i, wf := range workflows {
		out[i] = wf.Serialize()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if len(s.deps.Orchestrator.GetRunningTasks()) > 0 {
		http.Error(w, "tasks are in flight; reload rejected", http.StatusPreconditionRequired)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}
	nodesBlob, err := readUploadedFile(r, "nodes")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	workflowsBlob, err := readUploadedFile(r, "workflows")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code := s.deps.Orchestrator.LoadConfig(r.Context(), nodesBlob, workflowsBlob)
	if code != orchestrator.OK {
		w.WriteHeader(codeToStatus(code))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"nodes":     len(s.deps.Orchestrator.GetAllNodes()),
		"workflows": len(s.deps.Orchestrator.GetWorkflows()),
	})
}

func readUploadedFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	rows, err := s.deps.Store.RecentLogs(r.Context())
	if err != nil {
		s.logger.Error("could not fetch logs", "error", err)
		http.Error(w, "could not fetch logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	rows, err := s.deps.Store.ExecutionLogs(r.Context())
	if err != nil {
		s.logger.Error("could not fetch execution logs", "error", err)
		http.Error(w, "could not fetch execution logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
