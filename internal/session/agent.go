// File: internal/session/agent.go
// Description: The per-session control agent. A loopback HTTP server co-owned
// with the session (not the run) so the injected top-bar keeps working after
// a run finishes. Observer events arrive on /event; the top-bar and the CLI
// read /state and post /action.
package session

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxAgentEvents bounds the in-memory event ring.
const maxAgentEvents = 120

// Event is one observer report from the page or the engine.
type Event struct {
	Type      string `json:"type"`
	Severity  string `json:"severity,omitempty"`
	Message   string `json:"message,omitempty"`
	URL       string `json:"url,omitempty"`
	Status    int    `json:"status,omitempty"`
	Target    string `json:"target,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	ScrollY   int    `json:"scroll_y,omitempty"`
	Step      int    `json:"step,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AgentRuntime holds the mutable observer state behind the HTTP surface.
type AgentRuntime struct {
	mu                  sync.Mutex
	events              []Event
	incidentOpen        bool
	lastError           string
	errorCount          int
	ackCount            int
	lastAckAt           string
	lastAckBy           string
	learningActiveUntil time.Time
	noiseMode           string
	limiter             *rate.Limiter
}

// NewAgentRuntime builds the runtime with the configured noise mode and
// event-rate budget.
func NewAgentRuntime(noiseMode string, eventsPerSecond float64, burst int) *AgentRuntime {
	if noiseMode != "debug" {
		noiseMode = "minimal"
	}
	if eventsPerSecond <= 0 {
		eventsPerSecond = 40
	}
	if burst <= 0 {
		burst = 80
	}
	return &AgentRuntime{
		noiseMode: noiseMode,
		limiter:   rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
}

// RecordEvent ingests one observer event, applying the noise filter and the
// rate budget. learning_on/learning_off are control events, never stored.
func (rt *AgentRuntime) RecordEvent(payload map[string]any) {
	eventType := strings.ToLower(strings.TrimSpace(asString(payload["type"])))
	if eventType == "" {
		eventType = "unknown"
	}
	switch eventType {
	case "learning_on":
		seconds := asFloat(payload["window_seconds"], 25)
		if seconds < 1 {
			seconds = 1
		}
		if seconds > 600 {
			seconds = 600
		}
		rt.SetLearningActive(time.Duration(seconds * float64(time.Second)))
		return
	case "learning_off":
		rt.SetLearningInactive()
		return
	}

	if !rt.limiter.Allow() {
		return
	}

	controlled := asBool(payload["controlled"])
	learning := asBool(payload["learning_active"]) || rt.LearningActive()
	if rt.noiseMode == "minimal" && !controlled && !learning {
		switch eventType {
		case "click", "mousemove", "scroll":
			return
		}
	}

	message := clip(asString(payload["message"]), 400)
	status := int(asFloat(payload["status"], 0))
	event := Event{
		Type:      eventType,
		Severity:  eventSeverity(eventType, status, message),
		Message:   message,
		URL:       clip(asString(payload["url"]), 300),
		Status:    status,
		Target:    clip(asString(payload["target"]), 180),
		Selector:  clip(asString(payload["selector"]), 240),
		Text:      clip(asString(payload["text"]), 240),
		X:         int(asFloat(payload["x"], 0)),
		Y:         int(asFloat(payload["y"], 0)),
		ScrollY:   int(asFloat(payload["scroll_y"], 0)),
		Step:      int(asFloat(payload["step"], 0)),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.events = append(rt.events, event)
	if len(rt.events) > maxAgentEvents {
		rt.events = rt.events[len(rt.events)-maxAgentEvents:]
	}
	if event.Severity == "error" {
		rt.incidentOpen = true
		rt.errorCount++
		reason := event.Message
		if reason == "" {
			reason = event.URL
		}
		if reason == "" {
			reason = eventType
		}
		rt.lastError = clip(reason, 220)
	}
}

// eventSeverity classifies one event. 4xx network responses are usually
// auth/input flow noise; 5xx and status 0 are service failures.
func eventSeverity(eventType string, status int, message string) string {
	low := strings.ToLower(strings.TrimSpace(message))
	switch eventType {
	case "click", "mousemove", "scroll", "manual_click":
		return "info"
	case "network_warn", "console_warn":
		return "warn"
	case "network_error":
		if status == 0 || status >= 500 {
			return "error"
		}
		return "warn"
	case "console_error", "page_error":
		if strings.Contains(low, "resizeobserver loop limit exceeded") {
			return "warn"
		}
		if strings.Contains(low, "favicon.ico") && strings.Contains(low, "404") {
			return "warn"
		}
		return "error"
	}
	return "warn"
}

// SetLearningActive opens the learning window.
func (rt *AgentRuntime) SetLearningActive(d time.Duration) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.learningActiveUntil = time.Now().Add(d)
}

// SetLearningInactive closes the learning window.
func (rt *AgentRuntime) SetLearningInactive() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.learningActiveUntil = time.Time{}
}

// LearningActive reports whether the learning window is open.
func (rt *AgentRuntime) LearningActive() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return time.Now().Before(rt.learningActiveUntil)
}

// AcknowledgeIncident clears the incident and records the ack.
func (rt *AgentRuntime) AcknowledgeIncident(actor string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.incidentOpen = false
	rt.lastError = ""
	rt.ackCount++
	rt.lastAckAt = time.Now().UTC().Format(time.RFC3339)
	rt.lastAckBy = clip(actor, 40)
}

// Snapshot renders the runtime state for /state payloads.
func (rt *AgentRuntime) Snapshot() map[string]any {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	learning := time.Now().Before(rt.learningActiveUntil)
	recent := rt.events
	if len(recent) > 12 {
		recent = recent[len(recent)-12:]
	}
	lastEventAt := ""
	if len(recent) > 0 {
		lastEventAt = recent[len(recent)-1].CreatedAt
	}
	return map[string]any{
		"incident_open":      rt.incidentOpen,
		"last_error":         rt.lastError,
		"error_count":        rt.errorCount,
		"ack_count":          rt.ackCount,
		"last_ack_at":        rt.lastAckAt,
		"last_ack_by":        rt.lastAckBy,
		"learning_active":    learning,
		"observer_noise_mode": rt.noiseMode,
		"last_event_at":      lastEventAt,
		"recent_events":      append([]Event{}, recent...),
	}
}

// Agent serves the control HTTP surface for exactly one session.
type Agent struct {
	SessionID string
	Registry  *Registry
	Runtime   *AgentRuntime
	Logger    *zap.Logger

	shutdown chan struct{}
	once     sync.Once
}

// NewAgent wires an agent for a session.
func NewAgent(sessionID string, registry *Registry, runtime *AgentRuntime, logger *zap.Logger) *Agent {
	return &Agent{
		SessionID: sessionID,
		Registry:  registry,
		Runtime:   runtime,
		Logger:    logger.Named("control_agent").With(zap.String("session_id", sessionID)),
		shutdown:  make(chan struct{}),
	}
}

// Serve binds the loopback port and blocks until a close action arrives or
// the listener fails.
func (a *Agent) Serve(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("control agent failed to bind port %d: %w", port, err)
	}
	server := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	a.Logger.Info("Control agent listening.", zap.Int("port", port))

	select {
	case <-a.shutdown:
		_ = server.Close()
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler exposes the routes; split out for httptest coverage.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/state", a.handleState)
	mux.HandleFunc("/event", a.handleEvent)
	mux.HandleFunc("/action", a.handleAction)
	return mux
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": a.SessionID})
}

func (a *Agent) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
		return
	}
	s, err := a.Registry.Refresh(r.Context(), a.SessionID)
	if err != nil {
		a.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, a.statePayload(s))
}

func (a *Agent) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_json"})
		return
	}
	a.Runtime.RecordEvent(payload)
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *Agent) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
		return
	}
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_json"})
		return
	}

	action := strings.ToLower(strings.TrimSpace(payload.Action))
	s, err := a.Registry.Refresh(r.Context(), a.SessionID)
	if err != nil {
		a.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}

	switch action {
	case "refresh":
		a.writeJSON(w, http.StatusOK, a.okPayload(s, ""))
	case "ack":
		a.Runtime.AcknowledgeIncident("operator")
		a.writeJSON(w, http.StatusOK, a.okPayload(s, "incident acknowledged"))
	case "release":
		// Releasing control does not clear an open incident; only ack does.
		if err := a.Registry.MarkControlled(r.Context(), s, false); err != nil {
			a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		a.Runtime.SetLearningInactive()
		a.writeJSON(w, http.StatusOK, a.okPayload(s, "control released"))
	case "close":
		if err := a.Registry.Close(r.Context(), s); err != nil {
			a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		a.writeJSON(w, http.StatusOK, a.okPayload(s, "session closed"))
		a.once.Do(func() { close(a.shutdown) })
	default:
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unsupported action: %s", action)})
	}
}

func (a *Agent) okPayload(s *WebSession, message string) map[string]any {
	payload := a.statePayload(s)
	payload["ok"] = true
	if message != "" {
		payload["message"] = message
	}
	return payload
}

func (a *Agent) statePayload(s *WebSession) map[string]any {
	snapshot := a.Runtime.Snapshot()
	agentOnline := true // we are answering
	control := DeriveControlState(
		s.Controlled,
		snapshot["learning_active"].(bool),
		snapshot["incident_open"].(bool),
		agentOnline,
	)
	payload := map[string]any{
		"session_id":   s.SessionID,
		"state":        s.State,
		"controlled":   s.Controlled,
		"url":          s.URL,
		"title":        s.Title,
		"last_seen_at": s.LastSeenAt,
		"agent_online": agentOnline,
		"control_port": s.ControlPort,
		"control_url":  s.ControlURL(),
		"control":      control,
		"updated_at_utc": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range snapshot {
		payload[k] = v
	}
	return payload
}

func (a *Agent) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any, fallback float64) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	}
	return fallback
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
