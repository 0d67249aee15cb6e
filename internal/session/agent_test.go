// File: internal/session/agent_test.go
package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest servers keep idle conns briefly; chromedp not involved here.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newTestAgent(t *testing.T) (*Agent, *Registry, *WebSession) {
	t.Helper()
	dir := t.TempDir()
	registry := NewRegistry(filepath.Join(dir, "web_sessions"))
	s := &WebSession{
		SessionID:   "s1",
		PID:         0, // dead on purpose: Refresh marks the session closed
		Port:        1,
		UserDataDir: filepath.Join(dir, "web_sessions", "s1", "user-data"),
		State:       StateOpen,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, registry.Save(s))
	runtime := NewAgentRuntime("minimal", 1000, 1000)
	return NewAgent("s1", registry, runtime, zap.NewNop()), registry, s
}

func postJSON(t *testing.T, server *httptest.Server, path, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestAgentHealthAndState(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	server := httptest.NewServer(agent.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	state, err := http.Get(server.URL + "/state")
	require.NoError(t, err)
	defer state.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(state.Body).Decode(&payload))
	assert.Equal(t, "s1", payload["session_id"])
	assert.Equal(t, false, payload["incident_open"])
	assert.NotNil(t, payload["control"])
}

func TestAgentEventSeverityAndIncident(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	server := httptest.NewServer(agent.Handler())
	defer server.Close()

	// 404s are warnings; status 0 and 5xx open an incident.
	postJSON(t, server, "/event", `{"type":"network_error","status":404,"url":"http://x/a"}`)
	state := postJSON(t, server, "/action", `{"action":"refresh"}`)
	assert.Equal(t, false, state["incident_open"])

	postJSON(t, server, "/event", `{"type":"network_error","status":503,"url":"http://x/b"}`)
	state = postJSON(t, server, "/action", `{"action":"refresh"}`)
	assert.Equal(t, true, state["incident_open"])

	// Ack clears the incident and counts.
	state = postJSON(t, server, "/action", `{"action":"ack"}`)
	assert.Equal(t, false, state["incident_open"])
	assert.Equal(t, float64(1), state["ack_count"])
}

func TestAgentConsoleErrorDowngrades(t *testing.T) {
	runtime := NewAgentRuntime("minimal", 1000, 1000)

	runtime.RecordEvent(map[string]any{"type": "console_error", "message": "ResizeObserver loop limit exceeded"})
	snapshot := runtime.Snapshot()
	assert.Equal(t, false, snapshot["incident_open"])

	runtime.RecordEvent(map[string]any{"type": "console_error", "message": "TypeError: boom"})
	snapshot = runtime.Snapshot()
	assert.Equal(t, true, snapshot["incident_open"])
}

func TestAgentNoiseFilterMinimal(t *testing.T) {
	runtime := NewAgentRuntime("minimal", 1000, 1000)

	// Manual mousemove/scroll/clicks outside control or learning are dropped.
	runtime.RecordEvent(map[string]any{"type": "click", "message": "noise"})
	runtime.RecordEvent(map[string]any{"type": "scroll", "scroll_y": 100})
	snapshot := runtime.Snapshot()
	assert.Empty(t, snapshot["recent_events"])

	// Under assistant control the same events are recorded.
	runtime.RecordEvent(map[string]any{"type": "click", "controlled": true})
	snapshot = runtime.Snapshot()
	assert.Len(t, snapshot["recent_events"], 1)
}

func TestAgentNoiseFilterDebugKeepsEverything(t *testing.T) {
	runtime := NewAgentRuntime("debug", 1000, 1000)
	runtime.RecordEvent(map[string]any{"type": "scroll", "scroll_y": 10})
	snapshot := runtime.Snapshot()
	assert.Len(t, snapshot["recent_events"], 1)
}

func TestAgentLearningWindow(t *testing.T) {
	runtime := NewAgentRuntime("minimal", 1000, 1000)
	assert.False(t, runtime.LearningActive())

	runtime.RecordEvent(map[string]any{"type": "learning_on", "window_seconds": float64(30)})
	assert.True(t, runtime.LearningActive())

	// Manual clicks during the learning window are recorded despite minimal
	// noise mode.
	runtime.RecordEvent(map[string]any{"type": "manual_click", "selector": "#stop"})
	snapshot := runtime.Snapshot()
	assert.Len(t, snapshot["recent_events"], 1)

	runtime.RecordEvent(map[string]any{"type": "learning_off"})
	assert.False(t, runtime.LearningActive())
}

func TestAgentReleaseRetainsIncident(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	server := httptest.NewServer(agent.Handler())
	defer server.Close()

	postJSON(t, server, "/event", `{"type":"page_error","message":"boom"}`)
	state := postJSON(t, server, "/action", `{"action":"release"}`)
	assert.Equal(t, false, state["controlled"])
	// web-release keeps the incident open; only ack clears it.
	assert.Equal(t, true, state["incident_open"])
}

func TestAgentRejectsUnknownAction(t *testing.T) {
	agent, _, _ := newTestAgent(t)
	server := httptest.NewServer(agent.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/action", "application/json", bytes.NewBufferString(`{"action":"explode"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentRateLimiterBoundsEvents(t *testing.T) {
	runtime := NewAgentRuntime("debug", 1, 2)
	for i := 0; i < 50; i++ {
		runtime.RecordEvent(map[string]any{"type": "page_error", "message": "spam"})
	}
	snapshot := runtime.Snapshot()
	events := snapshot["recent_events"].([]Event)
	assert.LessOrEqual(t, len(events), 3)
}
