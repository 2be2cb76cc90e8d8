// Package handlers implements the read/control HTTP surface over the
// sentiment ingestion pipeline: live status, activity streaming, and
// circuit-breaker control.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/breaker"
	"github.com/sawpanic/cryptorun/internal/correlator"
	"github.com/sawpanic/cryptorun/internal/orchestrator"

	httpContracts "github.com/sawpanic/cryptorun/internal/interfaces/http"
)

// Handlers owns the long-lived components the HTTP surface reads from
// and drives.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Log          *activitylog.Log
	Breaker      *breaker.Breaker
	Logger       zerolog.Logger
}

func NewHandlers(o *orchestrator.Orchestrator, log *activitylog.Log, b *breaker.Breaker, logger zerolog.Logger) *Handlers {
	return &Handlers{Orchestrator: o, Log: log, Breaker: b, Logger: logger}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error().Err(err).Msg("http: encode response failed")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(httpContracts.RequestIDKey{}).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
	})
}

// NotFound handles 404 responses.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

func toCrossPlatformSignalResponse(s correlator.CrossPlatformSignal) httpContracts.CrossPlatformSignalResponse {
	platforms := make([]string, 0, len(s.ContributingPlatforms))
	for _, p := range s.ContributingPlatforms {
		platforms = append(platforms, string(p))
	}
	return httpContracts.CrossPlatformSignalResponse{
		Symbol:                s.Symbol,
		RiskLevel:             string(s.RiskLevel),
		ContributingPlatforms: platforms,
		FirstCrossedAt:        s.FirstCrossedAt,
	}
}
