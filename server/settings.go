package server

import (
	"net/http"

	"github.com/teranos/rankpulse/logger"
)

// handleGetTimezone reports the effective operator timezone
func (s *Server) handleGetTimezone(w http.ResponseWriter, r *http.Request) {
	tz, err := s.settings.Timezone(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to read timezone")
		return
	}
	if tz != "" {
		writeJSON(w, http.StatusOK, TimezoneResponse{Timezone: tz, Source: "setting"})
		return
	}
	fallback := s.cfg.Pulse.Timezone
	if fallback == "" {
		fallback = "UTC"
	}
	writeJSON(w, http.StatusOK, TimezoneResponse{Timezone: fallback, Source: "config"})
}

// handleSetTimezone stores a new timezone and refreshes the ticker's cached
// copy right away instead of waiting for the periodic refresh
func (s *Server) handleSetTimezone(w http.ResponseWriter, r *http.Request) {
	var req TimezoneRequest
	if !readJSON(w, r, &req) {
		return
	}

	tz, err := s.settings.SetTimezone(r.Context(), req.Timezone)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to set timezone")
		return
	}
	if s.ticker != nil {
		s.ticker.RefreshTimezone()
	}

	logger.AddPulseSymbol(s.logger).Infow("Timezone updated", logger.FieldTimezone, tz)
	writeJSON(w, http.StatusOK, TimezoneResponse{Timezone: tz, Source: "setting"})
}
