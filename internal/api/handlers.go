// Package api provides HTTP handlers and routing for the studio service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/internal/config"
	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/flowstore"
	"github.com/helixsec/studio-go/internal/graph"
	"github.com/helixsec/studio-go/internal/history"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/internal/prefs"
	"github.com/helixsec/studio-go/internal/runservice"
	"github.com/helixsec/studio-go/internal/schedule"
	"github.com/helixsec/studio-go/internal/session"
	"github.com/helixsec/studio-go/internal/validator"
	"github.com/helixsec/studio-go/pkg/types"
)

// maxImportSize caps workflow document uploads.
const maxImportSize = 4 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	flows     flowstore.Store
	histories history.Store
	catalog   *catalog.Catalog
	validator *validator.Validator
	runs      *runservice.Service
	tracker   *session.Tracker
	schedules *schedule.Manager
	bus       *eventbus.Bus
	prefs     *prefs.Store
	config    *config.Config
	logger    *slog.Logger
}

// HandlerDeps bundles the dependencies for NewHandlers.
type HandlerDeps struct {
	Flows     flowstore.Store
	Histories history.Store
	Catalog   *catalog.Catalog
	Validator *validator.Validator
	Runs      *runservice.Service
	Tracker   *session.Tracker
	Schedules *schedule.Manager
	Bus       *eventbus.Bus
	Prefs     *prefs.Store
	Config    *config.Config
	Logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps HandlerDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		flows:     deps.Flows,
		histories: deps.Histories,
		catalog:   deps.Catalog,
		validator: deps.Validator,
		runs:      deps.Runs,
		tracker:   deps.Tracker,
		schedules: deps.Schedules,
		bus:       deps.Bus,
		prefs:     deps.Prefs,
		config:    deps.Config,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.flows.List(ctx, &flowstore.ListOptions{}); err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "workflow store unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ready",
		"node_types": h.catalog.Len(),
	})
}

// --- Workflow Library ---

// SaveWorkflow handles POST /api/v1/workflows
func (h *Handlers) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req flowstore.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid workflow", err)
		return
	}

	saved, err := h.flows.Save(ctx, &req)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to save workflow", err)
		return
	}

	h.respondJSON(w, http.StatusOK, saved)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	opts := &flowstore.ListOptions{
		Search:        q.Get("search"),
		Tag:           q.Get("tag"),
		TemplatesOnly: q.Get("templates") == "true",
		ToolsOnly:     q.Get("tools") == "true",
	}

	workflows, err := h.flows.List(ctx, opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list workflows", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"workflows": workflows})
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	saved, err := h.flows.Get(ctx, id)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}

	h.respondJSON(w, http.StatusOK, saved)
}

// DeleteWorkflow handles DELETE /api/v1/workflows/{id}
func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.flows.Delete(ctx, id); err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to delete workflow", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportWorkflow handles GET /api/v1/workflows/{id}/export
func (h *Handlers) ExportWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	saved, err := h.flows.Get(ctx, id)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}

	data, err := graph.ExportDocument(graph.Document{
		Graph:       saved.Graph,
		Description: saved.Description,
		Tags:        saved.Tags,
		IsTemplate:  saved.IsTemplate,
		IsTool:      saved.IsTool,
	})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to export workflow", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+saved.Name+`.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportWorkflow handles POST /api/v1/workflows/import
// The imported definition is saved under a freshly minted id.
func (h *Handlers) ImportWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	g, doc, err := graph.ImportDocument(data)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid workflow document", err)
		return
	}

	saved, err := h.flows.Save(ctx, &flowstore.SaveRequest{
		Graph:       g,
		Description: doc.Description,
		Tags:        doc.Tags,
		IsTemplate:  doc.IsTemplate,
		IsTool:      doc.IsTool,
	})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to save imported workflow", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, saved)
}

// --- Catalog ---

// ListCatalog handles GET /api/v1/catalog
func (h *Handlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_types": h.catalog.List(),
	})
}

// RefreshCatalog handles POST /api/v1/catalog/refresh
func (h *Handlers) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Refresh(r.Context()); err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "failed to refresh catalog", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_types": h.catalog.Len(),
	})
}

// --- Validation ---

// ValidateGraph handles POST /api/v1/validate
func (h *Handlers) ValidateGraph(w http.ResponseWriter, r *http.Request) {
	var g types.WorkflowGraph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	issues := h.validator.Validate(g)
	for _, iss := range issues {
		metrics.ValidationIssuesTotal.WithLabelValues(iss.Code).Inc()
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

// --- Run Control ---

// RunRequest is the request body for starting a run. Either an inline
// graph or a saved workflow id must be provided.
type RunRequest struct {
	Graph      *types.WorkflowGraph `json:"graph,omitempty"`
	WorkflowID string               `json:"workflow_id,omitempty"`
}

// StartRun handles POST /api/v1/runs
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var g types.WorkflowGraph
	switch {
	case req.Graph != nil:
		g = *req.Graph
	case req.WorkflowID != "":
		saved, err := h.flows.Get(ctx, req.WorkflowID)
		if err != nil {
			if errors.Is(err, flowstore.ErrWorkflowNotFound) {
				h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
				return
			}
			h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
			return
		}
		g = saved.Graph
	default:
		h.respondError(w, r, http.StatusBadRequest, "graph or workflow_id is required", errors.New("empty run request"))
		return
	}

	executionID, issues, err := h.runs.RunGraph(ctx, g)
	if err != nil {
		if errors.Is(err, runservice.ErrTooManyRuns) {
			h.respondError(w, r, http.StatusConflict, "too many concurrent runs", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to start run", err)
		return
	}
	if len(issues) > 0 {
		writeErrorResponse(w, r, http.StatusUnprocessableEntity, ErrCodeUnprocessable, "workflow failed validation", map[string]interface{}{
			"issues": issues,
		})
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"execution_id": executionID,
		"status":       types.RunStatusRunning,
		"sse_url":      "/api/v1/events",
	})
}

// StopRun handles POST /api/v1/runs/{id}/stop
func (h *Handlers) StopRun(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	if err := h.runs.Stop(executionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to stop run", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// GetRun handles GET /api/v1/runs/{id}
// Live sessions take priority; finished runs fall back to history.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	rec, err := h.tracker.Get(executionID)
	if err == nil {
		h.respondJSON(w, http.StatusOK, rec)
		return
	}

	stored, err := h.histories.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, history.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}
	h.respondJSON(w, http.StatusOK, stored)
}

// ActiveRun handles GET /api/v1/runs/active
func (h *Handlers) ActiveRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.tracker.Active()
	if !ok {
		h.respondError(w, r, http.StatusNotFound, "no active run", errors.New("no active run"))
		return
	}

	resp := map[string]interface{}{"execution": rec}
	if p, ok := h.tracker.Progress(rec.ExecutionID); ok {
		resp["progress"] = p
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// --- Execution History ---

// ListExecutions handles GET /api/v1/executions
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	opts := history.ListOptions{
		Search:     q.Get("search"),
		WorkflowID: q.Get("workflow_id"),
	}
	if v := q.Get("page"); v != "" {
		opts.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		opts.PageSize, _ = strconv.Atoi(v)
	} else if h.prefs != nil {
		opts.PageSize = h.prefs.PageSize(history.DefaultPageSize)
	}

	page, err := h.histories.List(ctx, opts)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list executions", err)
		return
	}

	h.respondJSON(w, http.StatusOK, page)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	rec, err := h.histories.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, history.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// DeleteExecution handles DELETE /api/v1/executions/{id}
func (h *Handlers) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]

	if err := h.histories.Delete(ctx, executionID); err != nil {
		if errors.Is(err, history.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to delete execution", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Schedules ---

// StartSchedule handles PUT /api/v1/schedules/{workflowId}
func (h *Handlers) StartSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["workflowId"]

	var cfg types.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	saved, err := h.flows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, r, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}

	if err := h.schedules.Start(workflowID, saved.Name, cfg); err != nil {
		if errors.Is(err, schedule.ErrInvalidConfig) {
			h.respondError(w, r, http.StatusBadRequest, "invalid schedule config", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to start schedule", err)
		return
	}

	info, err := h.schedules.Get(workflowID)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to read schedule", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// StopSchedule handles DELETE /api/v1/schedules/{workflowId}
func (h *Handlers) StopSchedule(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]

	if err := h.schedules.Stop(workflowID); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			h.respondError(w, r, http.StatusNotFound, "schedule not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to stop schedule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSchedule handles GET /api/v1/schedules/{workflowId}
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]

	info, err := h.schedules.Get(workflowID)
	if err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			h.respondError(w, r, http.StatusNotFound, "schedule not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get schedule", err)
		return
	}

	h.respondJSON(w, http.StatusOK, info)
}

// ListSchedules handles GET /api/v1/schedules
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": h.schedules.List(),
	})
}

// --- Preferences ---

// GetPrefs handles GET /api/v1/prefs
func (h *Handlers) GetPrefs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"favorites":   h.prefs.Favorites(),
		"last_run_id": h.prefs.LastRunID(),
		"page_size":   h.prefs.PageSize(history.DefaultPageSize),
		"last_opened": h.prefs.LastOpened(),
	})
}

// ToggleFavorite handles POST /api/v1/prefs/favorites/{workflowId}
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowId"]
	starred := h.prefs.ToggleFavorite(workflowID)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"favorite":    starred,
	})
}

// UpdatePrefs handles PUT /api/v1/prefs
func (h *Handlers) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageSize   *int    `json:"page_size,omitempty"`
		LastOpened *string `json:"last_opened,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.PageSize != nil {
		h.prefs.SetPageSize(*req.PageSize)
	}
	if req.LastOpened != nil {
		h.prefs.SetLastOpened(*req.LastOpened)
	}
	h.GetPrefs(w, r)
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status, "path", r.URL.Path)
	details := map[string]interface{}{}
	if err != nil {
		details["cause"] = err.Error()
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, details)
}
