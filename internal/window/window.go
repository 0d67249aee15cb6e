// File: internal/window/window.go
// Description: Deterministic window management backend for GUI mode. Window
// operations never go through the narrative executor: they are executed
// directly with wmctrl/xdotool and produce their own evidence.
package window

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

// Backend runs window operation plans.
type Backend struct {
	Logger  *zap.Logger
	Timeout time.Duration
	// RunCommand and LookPath are swappable for tests.
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
	LookPath   func(name string) (string, error)
}

// NewBackend wires a Backend with the default command runner.
func NewBackend(logger *zap.Logger, timeout time.Duration) *Backend {
	b := &Backend{Logger: logger.Named("window"), Timeout: timeout}
	b.RunCommand = b.execCommand
	b.LookPath = exec.LookPath
	return b
}

// ShouldHandle reports whether a task is a pure window-management task.
func ShouldHandle(task string) bool {
	low := strings.ToLower(task)
	if strings.Contains(low, "window:") {
		return true
	}
	for _, keyword := range []string{
		"lista ventanas", "listar ventanas", "ventana activa", "activar ventana",
		"abre ventana", "open window", "list windows", "active window", "activate window",
	} {
		if strings.Contains(low, keyword) {
			return true
		}
	}
	return false
}

// Run executes every window op of the plan and assembles the report.
func (b *Backend) Run(ctx context.Context, plan steps.Plan, task, runID, runDir string) (*report.Report, error) {
	var ops []steps.Step
	for _, s := range plan.Steps {
		if s.WindowOp() {
			ops = append(ops, s)
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("GUI window mode requires explicit window operations")
	}

	evidenceDir := filepath.Join(runDir, "evidence")
	r := report.New(runID, task)

	for idx, op := range ops {
		stepNum := idx + 1
		before := filepath.Join(evidenceDir, fmt.Sprintf("step_%d_before.png", stepNum))
		after := filepath.Join(evidenceDir, fmt.Sprintf("step_%d_after.png", stepNum))
		windowTxt := filepath.Join(evidenceDir, fmt.Sprintf("step_%d_window.txt", stepNum))

		b.captureScreenshot(ctx, before, r)
		b.executeOp(ctx, op, stepNum, r)
		b.captureScreenshot(ctx, after, r)

		if err := b.writeWindowEvidence(windowTxt, runID, stepNum, r.Observations); err != nil {
			b.Logger.Warn("Failed to write window evidence.", zap.Error(err))
		}
		r.EvidencePaths = append(r.EvidencePaths, before, after, windowTxt)
	}

	r.Result = report.ResultSuccess
	if len(r.ConsoleErrors) > 0 {
		r.Result = report.ResultFailed
		if len(r.Observations) > 0 {
			r.Result = report.ResultPartial
		}
	}
	return r, nil
}

func (b *Backend) executeOp(ctx context.Context, op steps.Step, stepNum int, r *report.Report) {
	switch op.Kind {
	case steps.KindWindowList:
		stdout, stderr, err := b.RunCommand(ctx, "wmctrl", "-l")
		r.Actions = append(r.Actions, "cmd: wmctrl -l")
		if err != nil {
			r.ConsoleErrors = append(r.ConsoleErrors, firstNonEmpty(strings.TrimSpace(string(stderr)), "wmctrl -l failed"))
			return
		}
		lines := nonEmptyLines(string(stdout))
		r.Observations = append(r.Observations, fmt.Sprintf("step %d listed windows: %d entries", stepNum, len(lines)))
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify windows listed", stepNum))

	case steps.KindWindowActive:
		stdout, stderr, err := b.RunCommand(ctx, "xdotool", "getactivewindow", "getwindowname")
		r.Actions = append(r.Actions, "cmd: xdotool getactivewindow getwindowname")
		title := strings.TrimSpace(string(stdout))
		if err != nil || title == "" {
			r.ConsoleErrors = append(r.ConsoleErrors, firstNonEmpty(strings.TrimSpace(string(stderr)), "active window query failed"))
			return
		}
		r.Observations = append(r.Observations, fmt.Sprintf("step %d active window: %s", stepNum, title))
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify active window captured", stepNum))

	case steps.KindWindowActivate:
		target := strings.TrimSpace(op.Target)
		if target == "" {
			r.ConsoleErrors = append(r.ConsoleErrors, fmt.Sprintf("step %d activate requires a window title", stepNum))
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify activation failed", stepNum))
			return
		}
		_, stderr, err := b.RunCommand(ctx, "wmctrl", "-a", target)
		r.Actions = append(r.Actions, fmt.Sprintf("cmd: wmctrl -a %s", target))
		if err != nil {
			r.ConsoleErrors = append(r.ConsoleErrors, firstNonEmpty(strings.TrimSpace(string(stderr)), "window activation failed"))
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify activation failed", stepNum))
			return
		}
		r.Observations = append(r.Observations, fmt.Sprintf("step %d activated window: %s", stepNum, target))
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify window activated", stepNum))

	case steps.KindWindowOpen:
		target := strings.TrimSpace(op.Target)
		if parsed, err := url.Parse(target); err != nil || !parsed.IsAbs() {
			r.ConsoleErrors = append(r.ConsoleErrors, fmt.Sprintf("step %d open requires an absolute URL, got %q", stepNum, target))
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify open failed", stepNum))
			return
		}
		_, stderr, err := b.RunCommand(ctx, "xdg-open", target)
		r.Actions = append(r.Actions, fmt.Sprintf("cmd: xdg-open %s", target))
		if err != nil {
			r.ConsoleErrors = append(r.ConsoleErrors, firstNonEmpty(strings.TrimSpace(string(stderr)), "window open failed"))
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify open failed", stepNum))
			return
		}
		r.Observations = append(r.Observations, fmt.Sprintf("step %d open requested: %s", stepNum, target))
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("step %d verify window open requested", stepNum))
	}
}

func (b *Backend) captureScreenshot(ctx context.Context, path string, r *report.Report) {
	for _, tool := range [][]string{
		{"import", "-window", "root", path},
		{"scrot", path},
	} {
		if _, err := b.LookPath(tool[0]); err != nil {
			continue
		}
		if _, stderr, err := b.RunCommand(ctx, tool[0], tool[1:]...); err != nil {
			r.ConsoleErrors = append(r.ConsoleErrors, firstNonEmpty(strings.TrimSpace(string(stderr)), tool[0]+" screenshot failed"))
			return
		}
		return
	}
	r.ConsoleErrors = append(r.ConsoleErrors, "no screenshot tool available (import/scrot)")
}

func (b *Backend) writeWindowEvidence(path, runID string, step int, observations []string) error {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("run_id: %s", runID),
		fmt.Sprintf("step: %d", step),
		fmt.Sprintf("captured_at_utc: %s", time.Now().UTC().Format(time.RFC3339)),
	)
	for _, obs := range observations {
		lines = append(lines, "observation: "+obs)
	}
	return runstore.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func (b *Backend) execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	runCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return []byte(stdout.String()), []byte(stderr.String()), err
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
