package http

import "time"

// RequestIDKey is the context key the request-ID middleware stores the
// generated request ID under; handlers read it back for error envelopes.
type RequestIDKey struct{}

// ErrorResponse is the standard error envelope for every handler.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse reports overall liveness plus per-adapter status.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Phase     string                  `json:"phase"`
	Sources   map[string]SourceHealth `json:"sources"`
}

// SourceHealth is one adapter's health snapshot.
type SourceHealth struct {
	State         string    `json:"state"`
	EventsEmitted int64     `json:"events_emitted"`
	ErrorsLast1m  int64     `json:"errors_last_1m"`
	DroppedEvents int64     `json:"dropped_events"`
	LastEventAt   time.Time `json:"last_event_at"`
}

// LiveStatusResponse answers GET /live/status.
type LiveStatusResponse struct {
	Phase             string         `json:"phase"`
	Active            bool           `json:"active"`
	TotalEvents       int64          `json:"total_events"`
	ActiveDataSources int            `json:"active_data_sources"`
	Sources           []SourceStatus `json:"sources"`
}

// SourceStatus is one adapter's state in the aggregate status view.
type SourceStatus struct {
	Platform string `json:"platform"`
	State    string `json:"state"`
}

// LiveActivityResponse answers GET /live/activity (non-streaming form).
type LiveActivityResponse struct {
	Events []ActivityEvent `json:"events"`
}

// ActivityEvent is the wire shape of one Activity Log entry.
type ActivityEvent struct {
	ID             string   `json:"id"`
	Platform       string   `json:"platform"`
	Source         string   `json:"source"`
	TimestampMs    int64    `json:"timestamp_ms"`
	Text           string   `json:"text"`
	Symbols        []string `json:"symbols"`
	Sentiment      float64  `json:"sentiment"`
	Confidence     float64  `json:"confidence"`
	PumpIndicators []string `json:"pump_indicators,omitempty"`
	RiskScore      float64  `json:"risk_score"`
	IsNew          bool     `json:"is_new"`
}

// CrossPlatformSignalResponse is the wire shape of an active correlator signal.
type CrossPlatformSignalResponse struct {
	Symbol                string   `json:"symbol"`
	RiskLevel             string   `json:"risk_level"`
	ContributingPlatforms []string `json:"contributing_platforms"`
	FirstCrossedAt        time.Time `json:"first_crossed_at"`
}

// CircuitBreakerResponse answers GET /circuit-breaker.
type CircuitBreakerResponse struct {
	State             string    `json:"state"`
	DailyPnL          float64   `json:"daily_pnl"`
	TotalPnL          float64   `json:"total_pnl"`
	Drawdown          float64   `json:"drawdown"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	RecentFailures    int       `json:"recent_failures"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	EmergencyStopped  bool      `json:"emergency_stopped"`
}

// CircuitBreakerActionRequest is the body of POST /circuit-breaker.
type CircuitBreakerActionRequest struct {
	Action string `json:"action"` // force_open | force_close | emergency_stop
	Reason string `json:"reason"`
}
