package handlers

import (
	"encoding/json"
	"net/http"

	httpContracts "github.com/sawpanic/cryptorun/internal/interfaces/http"
)

// CircuitBreakerStatus handles GET /circuit-breaker.
func (h *Handlers) CircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Breaker == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "circuit breaker not configured")
		return
	}

	snap := h.Breaker.Stats()
	h.writeJSON(w, http.StatusOK, httpContracts.CircuitBreakerResponse{
		State:             snap.State.String(),
		DailyPnL:          snap.Metrics.DailyPnL,
		TotalPnL:          snap.Metrics.TotalPnL,
		Drawdown:          snap.Metrics.Drawdown,
		ConsecutiveLosses: snap.Metrics.ConsecutiveLosses,
		RecentFailures:    snap.RecentFailures,
		OpenedAt:          snap.OpenedAt,
		EmergencyStopped:  snap.EmergencyStopped,
	})
}

// CircuitBreakerAction handles POST /circuit-breaker with an action body
// of force_open, force_close, or emergency_stop.
func (h *Handlers) CircuitBreakerAction(w http.ResponseWriter, r *http.Request) {
	if h.Breaker == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "circuit breaker not configured")
		return
	}

	var req httpContracts.CircuitBreakerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", "could not decode request body")
		return
	}

	switch req.Action {
	case "force_open":
		h.Breaker.ForceOpen(req.Reason)
	case "force_close":
		h.Breaker.ForceClose()
	case "emergency_stop":
		h.Breaker.EmergencyStop(req.Reason)
	default:
		h.writeError(w, r, http.StatusBadRequest, "unknown_action", "action must be one of force_open, force_close, emergency_stop")
		return
	}

	h.CircuitBreakerStatus(w, r)
}
