package server

import (
	"net/http"
	"strings"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/execution"
)

// handleListRunning lists running runs, optionally for one tenant
func (s *Server) handleListRunning(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRunning(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list running runs")
		return
	}
	writeJSON(w, http.StatusOK, toListRunsResponse(runs))
}

// handleRunHistory pages through a tenant's runs of any status
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid history query")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid history query")
		return
	}

	runs, err := s.runs.ListHistory(r.Context(), tenant, limit, offset)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list run history")
		return
	}
	writeJSON(w, http.StatusOK, toListRunsResponse(runs))
}

// handleGetRun returns one run record
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleTriggerRun starts a manual run. The reply is sent once the run
// record exists; the handler keeps running in the background.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)

	jobType, err := crawl.ParseJobType(req.JobType)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid job type")
		return
	}

	pulseLog := logger.AddPulseSymbol(s.logger)
	pulseLog.Infow("Manual run requested",
		logger.FieldTenantID, req.TenantID,
		logger.FieldJobType, jobType)

	out, err := s.orchestrator.TriggerAsync(r.Context(), req.TenantID, jobType, req.Options)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to trigger run")
		return
	}

	switch out.Kind {
	case execution.OutcomeDuplicate:
		writeJSON(w, http.StatusConflict, TriggerRunResponse{
			Status:        string(out.Kind),
			ExistingRunID: out.ExistingRunID,
			Error:         out.Message,
		})
	case execution.OutcomeFailed:
		// Rejected before a record was written
		writeJSON(w, http.StatusInternalServerError, TriggerRunResponse{
			RunID:  out.RunID,
			Status: string(out.Kind),
			Error:  out.Message,
		})
	default:
		pulseLog.Infow("Manual run started", logger.FieldRunID, shortID(out.RunID))
		writeJSON(w, http.StatusAccepted, TriggerRunResponse{RunID: out.RunID, Status: string(out.Kind)})
	}
}

// handleStopRun stops a running run: 404 if unknown, 409 if already terminal
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orchestrator.Stop(r.Context(), id); err != nil {
		writeWrappedError(w, s.logger, err, "failed to stop run")
		return
	}

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, errors.WithDetailf(err, "Run ID: %s", id), "run stopped but could not be reloaded")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}
