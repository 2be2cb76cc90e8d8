package handlers

import (
	"net/http"
	"time"

	httpContracts "github.com/sawpanic/cryptorun/internal/interfaces/http"
)

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	response := httpContracts.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Sources:   make(map[string]httpContracts.SourceHealth),
	}

	if h.Orchestrator != nil {
		response.Phase = string(h.Orchestrator.Phase())
		stats := h.Orchestrator.Stats()
		for platform, s := range stats.PerAdapter {
			response.Sources[platform] = httpContracts.SourceHealth{
				State:         string(s.State),
				EventsEmitted: s.EventsEmitted,
				ErrorsLast1m:  s.ErrorsLast1m,
				DroppedEvents: s.DroppedEvents,
				LastEventAt:   s.LastEventAt,
			}
			if s.ErrorsLast1m > 0 {
				response.Status = "degraded"
			}
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}
