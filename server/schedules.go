package server

import (
	"net/http"
	"strings"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/schedule"
)

// handleListSchedules lists definitions, enabled or not. ?tenant= narrows
// the list to one tenant.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var (
		defs []*schedule.Definition
		err  error
	)
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		defs, err = s.schedules.ListByTenant(r.Context(), tenant)
	} else {
		defs, err = s.schedules.ListAll(r.Context())
	}
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, 0, len(defs)), Count: len(defs)}
	for _, def := range defs {
		resp.Schedules = append(resp.Schedules, toScheduleResponse(def))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateSchedule creates a definition; new definitions are enabled
// unless the request says otherwise
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !readJSON(w, r, &req) {
		return
	}

	jobType, err := crawl.ParseJobType(req.JobType)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid job type")
		return
	}

	def := &schedule.Definition{
		TenantID:  strings.TrimSpace(req.TenantID),
		JobType:   jobType,
		TimeOfDay: req.TimeOfDay,
		Weekdays:  intWeekdays(req.Weekdays),
		Enabled:   req.Enabled == nil || *req.Enabled,
		Config:    req.Config,
	}
	if err := s.schedules.CreateDefinition(r.Context(), def); err != nil {
		writeWrappedError(w, s.logger, err, "failed to create schedule")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Schedule created",
		logger.FieldDefinitionID, def.ID,
		logger.FieldTenantID, def.TenantID,
		logger.FieldJobType, def.JobType,
		"time_of_day", def.TimeOfDay,
		"weekdays", schedule.FormatWeekdays(def.Weekdays))

	writeJSON(w, http.StatusCreated, toScheduleResponse(def))
}

// handleGetSchedule returns one definition
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	def, err := s.schedules.GetDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(def))
}

// handleUpdateSchedule applies a partial update
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if !readJSON(w, r, &req) {
		return
	}

	def, err := s.schedules.GetDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get schedule")
		return
	}

	if req.JobType != nil {
		jobType, err := crawl.ParseJobType(*req.JobType)
		if err != nil {
			writeWrappedError(w, s.logger, err, "invalid job type")
			return
		}
		def.JobType = jobType
	}
	if req.TimeOfDay != nil {
		def.TimeOfDay = *req.TimeOfDay
	}
	if req.Weekdays != nil {
		def.Weekdays = intWeekdays(*req.Weekdays)
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	if req.Config != nil {
		def.Config = req.Config
	}

	if err := s.schedules.UpdateDefinition(r.Context(), def); err != nil {
		writeWrappedError(w, s.logger, err, "failed to update schedule")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Schedule updated",
		logger.FieldDefinitionID, def.ID,
		"enabled", def.Enabled)
	writeJSON(w, http.StatusOK, toScheduleResponse(def))
}

// handleDisableSchedule soft-deletes a definition by disabling it. The row
// and its run history are kept.
func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.schedules.SetEnabled(r.Context(), id, false); err != nil {
		writeWrappedError(w, s.logger, err, "failed to disable schedule")
		return
	}
	logger.AddPulseSymbol(s.logger).Infow("Schedule disabled", logger.FieldDefinitionID, id)

	def, err := s.schedules.GetDefinition(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(def))
}
