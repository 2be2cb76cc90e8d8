package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/cryptorun/internal/model"

	httpContracts "github.com/sawpanic/cryptorun/internal/interfaces/http"
)

// LiveStart handles POST /live/start.
func (h *Handlers) LiveStart(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "orchestrator not configured")
		return
	}
	if err := h.Orchestrator.Start(r.Context()); err != nil {
		h.writeError(w, r, http.StatusConflict, "start_failed", err.Error())
		return
	}
	h.LiveStatus(w, r)
}

// LiveStop handles DELETE /live/stop.
func (h *Handlers) LiveStop(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "orchestrator not configured")
		return
	}
	if err := h.Orchestrator.Stop(); err != nil {
		h.writeError(w, r, http.StatusConflict, "stop_failed", err.Error())
		return
	}
	h.LiveStatus(w, r)
}

// LiveStatus handles GET /live/status.
func (h *Handlers) LiveStatus(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "orchestrator not configured")
		return
	}

	stats := h.Orchestrator.Stats()
	sources := make([]httpContracts.SourceStatus, 0, len(stats.DataSourceStatus))
	for _, s := range stats.DataSourceStatus {
		sources = append(sources, httpContracts.SourceStatus{Platform: s.Platform, State: string(s.State)})
	}

	h.writeJSON(w, http.StatusOK, httpContracts.LiveStatusResponse{
		Phase:             string(h.Orchestrator.Phase()),
		Active:            h.Orchestrator.IsActive(),
		TotalEvents:       stats.TotalEvents,
		ActiveDataSources: stats.ActiveDataSources,
		Sources:           sources,
	})
}

// LiveActivity handles GET /live/activity: a recent-window snapshot by
// default, or a Server-Sent Events stream when the client requests
// text/event-stream.
func (h *Handlers) LiveActivity(w http.ResponseWriter, r *http.Request) {
	if h.Log == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "activity log not configured")
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		h.streamActivity(w, r)
		return
	}

	events := h.Log.RecentSince(15 * time.Minute)
	out := make([]httpContracts.ActivityEvent, 0, len(events))
	for _, e := range events {
		out = append(out, toActivityEventResponse(e))
	}
	h.writeJSON(w, http.StatusOK, httpContracts.LiveActivityResponse{Events: out})
}

const sseHeartbeatInterval = 30 * time.Second

func (h *Handlers) streamActivity(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.Log.Subscribe()
	defer sub.Unsubscribe()

	writeSSE(w, flusher, "connection", `{"status":"connected"}`)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, flusher, "heartbeat", fmt.Sprintf(`{"ts":%d}`, time.Now().UnixMilli()))
		case d, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(toActivityEventResponse(d.Entry.Event))
			if err != nil {
				writeSSE(w, flusher, "error", fmt.Sprintf(`{"message":%q}`, err.Error()))
				continue
			}
			writeSSE(w, flusher, "symbol_detection", string(payload))
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func toActivityEventResponse(e model.Event) httpContracts.ActivityEvent {
	return httpContracts.ActivityEvent{
		ID:             e.ID,
		Platform:       string(e.Platform),
		Source:         e.Source,
		TimestampMs:    e.TimestampMs,
		Text:           e.Text,
		Symbols:        e.Symbols,
		Sentiment:      e.Sentiment,
		Confidence:     e.Confidence,
		PumpIndicators: e.PumpIndicators,
		RiskScore:      e.RiskScore,
		IsNew:          e.IsNew,
	}
}

// Signals handles GET /live/signals: active CrossPlatformSignals.
func (h *Handlers) Signals(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "not_configured", "orchestrator not configured")
		return
	}
	signals := h.Orchestrator.GetActiveSignals()
	out := make([]httpContracts.CrossPlatformSignalResponse, 0, len(signals))
	for _, s := range signals {
		out = append(out, toCrossPlatformSignalResponse(s))
	}
	h.writeJSON(w, http.StatusOK, out)
}
