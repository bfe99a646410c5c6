package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/version"
)

// handleHealth reports liveness, ticker stats and host memory. Failures of
// the optional sections degrade the body, not the status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	resp := HealthResponse{
		Status:        "ok",
		Version:       info.Version,
		Commit:        info.Short(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Clients:       s.hub.ClientCount(),
	}

	if running, err := s.runs.ListRunning(r.Context(), ""); err != nil {
		s.logger.Warnw("Health check could not list running runs", logger.FieldError, err)
		resp.Status = "degraded"
	} else {
		resp.RunningRuns = len(running)
	}

	if s.ticker != nil {
		stats := s.ticker.GetStats()
		resp.Ticker = &stats
	}

	if memStats, err := s.memoryStats(); err != nil {
		s.logger.Debugw("Memory stats unavailable", logger.FieldError, err)
	} else {
		resp.Memory = memStats
	}

	writeJSON(w, http.StatusOK, resp)
}

// hostMemory reads virtual memory figures from gopsutil
func hostMemory() (*MemoryStats, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get memory stats")
	}
	return &MemoryStats{
		TotalBytes:     v.Total,
		AvailableBytes: v.Available,
		UsedPercent:    v.UsedPercent,
	}, nil
}
