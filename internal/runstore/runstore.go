// File: internal/runstore/runstore.go
// Description: The per-run workspace on disk. Allocation is collision-safe,
// every JSON write is atomic, and status.json is always the last file a
// finalizing run touches.
package runstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RunState is the lifecycle marker persisted to status.json.
type RunState string

const (
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// RunContext locates every artifact of one run.
type RunContext struct {
	RunID       string
	RunDir      string
	BridgeLog   string
	StdoutLog   string
	StderrLog   string
	ReportPath  string
	PromptPath  string
	EvidenceDir string
	LearningDir string
	HomeDir     string
}

// Store owns the runs tree (default "runs/").
type Store struct {
	Root string
}

// NewStore returns a Store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// StatusPath is the global single-slot status index.
func (s *Store) StatusPath() string { return filepath.Join(s.Root, "status.json") }

// SessionsDir holds the persistent web session records.
func (s *Store) SessionsDir() string { return filepath.Join(s.Root, "web_sessions") }

// LearningDir holds the global learning store.
func (s *Store) LearningDir() string { return filepath.Join(s.Root, "learning") }

// GlobalLearningPath is the cross-run learned selector store.
func (s *Store) GlobalLearningPath() string {
	return filepath.Join(s.LearningDir(), "web_teaching_selectors.json")
}

// CreateRun allocates a unique run directory named by a UTC timestamp with a
// collision suffix, and pre-creates the evidence/learning/home subtrees.
func (s *Store) CreateRun(now time.Time) (*RunContext, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs root: %w", err)
	}
	base := now.UTC().Format("20060102-150405")
	for attempt := 0; attempt < 100; attempt++ {
		runID := base
		if attempt > 0 {
			runID = fmt.Sprintf("%s-%02d", base, attempt)
		}
		candidate := filepath.Join(s.Root, runID)
		if _, err := os.Stat(candidate); err == nil {
			continue
		}
		if err := os.MkdirAll(candidate, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		rc := &RunContext{
			RunID:       runID,
			RunDir:      candidate,
			BridgeLog:   filepath.Join(candidate, "bridge.log"),
			StdoutLog:   filepath.Join(candidate, "oi_stdout.log"),
			StderrLog:   filepath.Join(candidate, "oi_stderr.log"),
			ReportPath:  filepath.Join(candidate, "report.json"),
			PromptPath:  filepath.Join(candidate, "prompt.json"),
			EvidenceDir: filepath.Join(candidate, "evidence"),
			LearningDir: filepath.Join(candidate, "learning"),
			HomeDir:     filepath.Join(candidate, ".oi_home"),
		}
		for _, dir := range []string{
			rc.EvidenceDir,
			rc.LearningDir,
			filepath.Join(rc.HomeDir, ".cache"),
			filepath.Join(rc.HomeDir, ".config"),
		} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create run subdirectory %s: %w", dir, err)
			}
		}
		return rc, nil
	}
	return nil, fmt.Errorf("could not allocate a unique run directory under %s", s.Root)
}

// WriteJSON persists any payload as indented JSON with a trailing newline,
// atomically.
func WriteJSON(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// MarshalIndentJSON renders any payload the way WriteJSON persists it.
func MarshalIndentJSON(payload any) ([]byte, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// ReadJSON loads a JSON file into out.
func ReadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AppendLog appends a single line to a log file, creating it if needed.
func AppendLog(path, message string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strings.TrimRight(message, "\n") + "\n")
	return err
}

// Status is the global single-run status record.
type Status struct {
	RunID       string   `json:"run_id"`
	RunDir      string   `json:"run_dir"`
	Task        string   `json:"task"`
	Result      string   `json:"result"`
	State       RunState `json:"state"`
	ReportPath  string   `json:"report_path"`
	Progress    string   `json:"progress,omitempty"`
	StepCurrent int      `json:"step_current,omitempty"`
	StepTotal   int      `json:"step_total,omitempty"`
	UpdatedAt   string   `json:"updated_at_utc"`
}

// WriteStatus updates the global status index under a lock. Finalizers call
// this last so status never claims a run that has no report behind it.
func (s *Store) WriteStatus(status Status) error {
	status.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	lock, err := AcquireLock(s.StatusPath())
	if err != nil {
		return err
	}
	defer lock.Release()
	return WriteJSON(s.StatusPath(), status)
}

// ReadStatus returns the last known status, or ok=false when no run exists.
func (s *Store) ReadStatus() (Status, bool, error) {
	var status Status
	err := ReadJSON(s.StatusPath(), &status)
	if os.IsNotExist(err) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}
	return status, true, nil
}

// TailLines returns the last n lines of a file; a missing file yields nil.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n*2 && n > 0 {
			lines = lines[len(lines)-n:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
