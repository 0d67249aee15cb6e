// File: internal/session/session.go
// Description: Persistent browser sessions. A session outlives any single
// run: it owns a browser process with a CDP endpoint and a loopback control
// agent. The on-disk registry is the single source of truth; every record
// update is a whole-file atomic rewrite under a per-session lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bridge-cli/internal/runstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the session lifecycle marker.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// ErrUnknownSession is returned when a session id has no registry record.
var ErrUnknownSession = errors.New("unknown session id")

// WebSession is the persisted registry record.
type WebSession struct {
	SessionID     string `json:"session_id"`
	PID           int    `json:"pid"`
	Port          int    `json:"port"`
	UserDataDir   string `json:"user_data_dir"`
	BrowserBinary string `json:"browser_binary"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Controlled    bool   `json:"controlled"`
	CreatedAt     string `json:"created_at"`
	LastSeenAt    string `json:"last_seen_at"`
	State         State  `json:"state"`
	ControlPort   int    `json:"control_port"`
	AgentPID      int    `json:"agent_pid"`
	CurrentRunID  string `json:"current_run_id,omitempty"`
}

// CDPEndpoint is the debug-protocol base URL for the session's browser.
func (s *WebSession) CDPEndpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port)
}

// ControlURL is the control agent base URL, or "" when no agent is bound.
func (s *WebSession) ControlURL() string {
	if s.ControlPort <= 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d", s.ControlPort)
}

// Registry manages the web_sessions directory.
type Registry struct {
	Dir string
	// AgentCommand builds the detached control agent process for a session.
	// Defaults to re-executing this binary's hidden control-agent command.
	AgentCommand func(sessionID string, port int) *exec.Cmd
	// BrowserBinary optionally pins the browser executable.
	BrowserBinary string

	httpClient *http.Client
}

// NewRegistry returns a Registry rooted at runs/web_sessions.
func NewRegistry(dir string) *Registry {
	return &Registry{
		Dir:        dir,
		httpClient: &http.Client{Timeout: 1500 * time.Millisecond},
	}
}

func (r *Registry) recordPath(sessionID string) string {
	return filepath.Join(r.Dir, sessionID+".json")
}

func (r *Registry) indexPath() string {
	return filepath.Join(r.Dir, "index.json")
}

// Create spawns a browser with a remote debugging endpoint, starts a control
// agent, and persists the record.
func (r *Registry) Create(ctx context.Context, initialURL string) (*WebSession, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	sessionID, base, err := r.allocateDir()
	if err != nil {
		return nil, err
	}

	browser, err := r.findBrowserBinary()
	if err != nil {
		return nil, err
	}
	port, err := FreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate CDP port: %w", err)
	}
	userDataDir := filepath.Join(base, "user-data")
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data dir: %w", err)
	}
	startURL := initialURL
	if startURL == "" {
		startURL = "about:blank"
	}

	cmd := exec.Command(browser,
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--new-window", startURL,
		"--no-first-run",
		"--no-default-browser-check",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := redirectLogs(cmd, base, "browser"); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch browser %s: %w", browser, err)
	}
	// Detach: the session must survive this process.
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	if err := r.waitForCDP(ctx, port, 15*time.Second); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	session := &WebSession{
		SessionID:     sessionID,
		PID:           pid,
		Port:          port,
		UserDataDir:   userDataDir,
		BrowserBinary: browser,
		URL:           startURL,
		Controlled:    false,
		CreatedAt:     now,
		LastSeenAt:    now,
		State:         StateOpen,
	}
	if err := r.ensureControlAgent(ctx, session, base); err != nil {
		return nil, err
	}
	if err := r.Save(session); err != nil {
		return nil, err
	}
	if err := r.setLastSessionID(sessionID); err != nil {
		return nil, err
	}
	return session, nil
}

// Load reads a session record.
func (r *Registry) Load(sessionID string) (*WebSession, error) {
	var s WebSession
	err := runstore.ReadJSON(r.recordPath(sessionID), &s)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Save persists the record atomically under the session lock.
func (r *Registry) Save(s *WebSession) error {
	lock, err := runstore.AcquireLock(r.recordPath(s.SessionID))
	if err != nil {
		return err
	}
	defer lock.Release()
	return runstore.WriteJSON(r.recordPath(s.SessionID), s)
}

// LastSession resolves the "--attach last" shorthand.
func (r *Registry) LastSession() (*WebSession, error) {
	var index struct {
		LastSessionID string `json:"last_session_id"`
	}
	if err := runstore.ReadJSON(r.indexPath(), &index); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no sessions recorded yet", ErrUnknownSession)
		}
		return nil, err
	}
	if index.LastSessionID == "" {
		return nil, fmt.Errorf("%w: no sessions recorded yet", ErrUnknownSession)
	}
	return r.Refresh(context.Background(), index.LastSessionID)
}

// Alive probes pid, CDP and agent concurrently. All three must respond for a
// session to accept an attach.
func (r *Registry) Alive(ctx context.Context, s *WebSession) (browserAlive, agentOnline bool) {
	g, gctx := errgroup.WithContext(ctx)
	var pidOK, cdpOK, agentOK bool
	g.Go(func() error {
		pidOK = PidAlive(s.PID)
		return nil
	})
	g.Go(func() error {
		cdpOK = r.cdpAlive(gctx, s.Port)
		return nil
	})
	g.Go(func() error {
		agentOK = s.AgentPID > 0 && s.ControlPort > 0 && PidAlive(s.AgentPID) && r.agentPing(gctx, s.ControlPort)
		return nil
	})
	_ = g.Wait()
	return pidOK && cdpOK, agentOK
}

// Refresh probes liveness, updates URL/title from the CDP target list, and
// restarts a missing control agent for live sessions.
func (r *Registry) Refresh(ctx context.Context, sessionID string) (*WebSession, error) {
	s, err := r.Load(sessionID)
	if err != nil {
		return nil, err
	}
	browserAlive, _ := r.Alive(ctx, s)
	if browserAlive {
		s.State = StateOpen
		if target := r.primaryTarget(ctx, s.Port); target != nil {
			if target.URL != "" {
				s.URL = target.URL
			}
			s.Title = target.Title
		}
		base := filepath.Dir(s.UserDataDir)
		if err := r.ensureControlAgent(ctx, s, base); err != nil {
			return nil, err
		}
	} else {
		s.State = StateClosed
		s.Controlled = false
		s.AgentPID = 0
		s.ControlPort = 0
	}
	s.LastSeenAt = time.Now().UTC().Format(time.RFC3339)
	if err := r.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MarkControlled flips assistant control. Control can only be held on an
// open session.
func (r *Registry) MarkControlled(ctx context.Context, s *WebSession, controlled bool) error {
	refreshed, err := r.Refresh(ctx, s.SessionID)
	if err != nil {
		return err
	}
	*s = *refreshed
	s.Controlled = controlled && s.State == StateOpen
	s.LastSeenAt = time.Now().UTC().Format(time.RFC3339)
	return r.Save(s)
}

// BindRun records the run currently attached to the session ("" releases).
func (r *Registry) BindRun(s *WebSession, runID string) error {
	s.CurrentRunID = runID
	return r.Save(s)
}

// Close terminates the browser and agent, marking the record closed.
func (r *Registry) Close(ctx context.Context, s *WebSession) error {
	if PidAlive(s.PID) {
		_ = syscall.Kill(s.PID, syscall.SIGTERM)
		for i := 0; i < 20 && PidAlive(s.PID); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		if PidAlive(s.PID) {
			_ = syscall.Kill(s.PID, syscall.SIGKILL)
		}
	}
	if s.AgentPID > 0 && s.AgentPID != os.Getpid() && PidAlive(s.AgentPID) {
		_ = syscall.Kill(s.AgentPID, syscall.SIGTERM)
	}
	s.Controlled = false
	s.State = StateClosed
	s.AgentPID = 0
	s.ControlPort = 0
	s.CurrentRunID = ""
	s.LastSeenAt = time.Now().UTC().Format(time.RFC3339)
	return r.Save(s)
}

func (r *Registry) allocateDir() (string, string, error) {
	base := time.Now().UTC().Format("20060102-150405")
	for attempt := 0; attempt < 100; attempt++ {
		id := base
		if attempt > 0 {
			id = fmt.Sprintf("%s-%02d", base, attempt)
		}
		dir := filepath.Join(r.Dir, id)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("failed to create session directory: %w", err)
		}
		return id, dir, nil
	}
	return "", "", fmt.Errorf("could not allocate a unique session directory under %s", r.Dir)
}

func (r *Registry) findBrowserBinary() (string, error) {
	if r.BrowserBinary != "" {
		return r.BrowserBinary, nil
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if found, err := exec.LookPath(name); err == nil {
			return found, nil
		}
	}
	return "", fmt.Errorf("no supported Chromium browser found for persistent web session")
}

func (r *Registry) ensureControlAgent(ctx context.Context, s *WebSession, baseDir string) error {
	if s.ControlPort > 0 && PidAlive(s.AgentPID) && r.agentPing(ctx, s.ControlPort) {
		return nil
	}
	port, err := FreePort()
	if err != nil {
		return fmt.Errorf("failed to allocate control agent port: %w", err)
	}

	var cmd *exec.Cmd
	if r.AgentCommand != nil {
		cmd = r.AgentCommand(s.SessionID, port)
	} else {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve own executable for control agent: %w", err)
		}
		cmd = exec.Command(self, "control-agent", "--session-id", s.SessionID, "--port", fmt.Sprintf("%d", port))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := redirectLogs(cmd, baseDir, "agent"); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start control agent: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if r.agentPing(ctx, port) {
			s.ControlPort = port
			s.AgentPID = pid
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for session control agent on port %d", port)
}

func (r *Registry) agentPing(ctx context.Context, port int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *Registry) cdpAlive(ctx context.Context, port int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/json/version", port), nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type cdpTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// PrimaryTargetID returns the first page target of the session's browser,
// "" when none is reachable. Attaching runs reuse the session's page instead
// of opening tabs of their own.
func (r *Registry) PrimaryTargetID(ctx context.Context, s *WebSession) string {
	target := r.primaryTarget(ctx, s.Port)
	if target == nil {
		return ""
	}
	return target.ID
}

func (r *Registry) primaryTarget(ctx context.Context, port int) *cdpTarget {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/json/list", port), nil)
	if err != nil {
		return nil
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var targets []cdpTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil
	}
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}

func (r *Registry) waitForCDP(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.cdpAlive(ctx, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("timed out waiting for browser debug endpoint on port %d", port)
}

func (r *Registry) setLastSessionID(sessionID string) error {
	return runstore.WriteJSON(r.indexPath(), map[string]string{"last_session_id": sessionID})
}

// PidAlive reports whether a process exists (signal 0 probe).
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// FreePort asks the kernel for an ephemeral loopback port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func redirectLogs(cmd *exec.Cmd, dir, prefix string) error {
	out, err := os.OpenFile(filepath.Join(dir, prefix+"_stdout.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s stdout log: %w", prefix, err)
	}
	errFile, err := os.OpenFile(filepath.Join(dir, prefix+"_stderr.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to open %s stderr log: %w", prefix, err)
	}
	cmd.Stdout = out
	cmd.Stderr = errFile
	cmd.Stdin = nil
	return nil
}
