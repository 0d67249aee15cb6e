// File: internal/bridge/bridge.go
// Description: Mode orchestration. One Run() is one report: the bridge picks
// the backend, routes its raw output through the guardrail and normalization
// pipeline, and guarantees finalization even when the backend dies.
package bridge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
	"github.com/xkilldash9x/bridge-cli/internal/guardrail"
	"github.com/xkilldash9x/bridge-cli/internal/learn"
	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runner"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/session"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
	"github.com/xkilldash9x/bridge-cli/internal/web"
	"github.com/xkilldash9x/bridge-cli/internal/window"
)

// Exit codes for the CLI surface.
const (
	ExitOK          = 0
	ExitGuardrail   = 2
	ExitTimeout     = 3
	ExitBootstrap   = 4
	ExitInvalidArgs = 5
)

// Flags carries the run-level switches.
type Flags struct {
	Mode             string
	Verified         bool
	Visual           bool
	VisualCursor     bool
	VisualPulse      bool
	HumanMouse       bool
	Teaching         bool
	ConfirmSensitive bool
	KeepOpen         bool
	AttachSessionID  string
}

// Bridge wires the shared dependencies for all modes.
type Bridge struct {
	Cfg      *config.Config
	Store    *runstore.Store
	Registry *session.Registry
	Logger   *zap.Logger
}

// New builds a Bridge over the configured runs root.
func New(cfg *config.Config, store *runstore.Store, registry *session.Registry, logger *zap.Logger) *Bridge {
	return &Bridge{Cfg: cfg, Store: store, Registry: registry, Logger: logger.Named("bridge")}
}

// RunOutcome reports what the finalizer persisted.
type RunOutcome struct {
	RunID    string
	RunDir   string
	Report   *report.Report
	ExitCode int
}

// Run executes one task in one mode. Once the run directory is created it
// always leaves report.json plus an updated status.json behind; an empty
// task, an unknown mode, a task-level guardrail rejection or a failed
// directory allocation returns an error before any report exists.
func (b *Bridge) Run(ctx context.Context, task string, flags Flags) (RunOutcome, error) {
	if strings.TrimSpace(task) == "" {
		return RunOutcome{ExitCode: ExitInvalidArgs}, fmt.Errorf("task must not be empty")
	}
	mode := guardrail.Mode(flags.Mode)
	switch mode {
	case guardrail.ModeShell, guardrail.ModeGUI, guardrail.ModeWeb:
	default:
		return RunOutcome{ExitCode: ExitInvalidArgs}, fmt.Errorf("unsupported mode: %s", flags.Mode)
	}

	// Task-level guardrails run before any run directory exists.
	if guardrail.TaskViolatesCodeEditRule(task) {
		return RunOutcome{ExitCode: ExitGuardrail},
			fmt.Errorf("guardrail: task requests source code edits, which are never allowed")
	}
	if sensitive := guardrail.TaskSensitiveIntents(task); len(sensitive) > 0 {
		err := guardrail.ConfirmSensitive(sensitive, flags.ConfirmSensitive,
			os.Stdin, os.Stderr, guardrail.IsTTY(os.Stdin))
		if err != nil {
			return RunOutcome{ExitCode: ExitGuardrail}, err
		}
	}

	rc, err := b.Store.CreateRun(time.Now())
	if err != nil {
		return RunOutcome{ExitCode: ExitBootstrap}, err
	}
	logger := b.Logger.With(zap.String("run_id", rc.RunID))
	logger.Info("Run started.", zap.String("mode", string(mode)), zap.String("task", task))

	prompt := map[string]any{
		"run_id":  rc.RunID,
		"task":    task,
		"mode":    string(mode),
		"flags":   flags,
		"created": time.Now().UTC().Format(time.RFC3339),
	}
	if err := runstore.WriteJSON(rc.PromptPath, prompt); err != nil {
		logger.Warn("Failed to persist prompt.json.", zap.Error(err))
	}
	_ = b.Store.WriteStatus(runstore.Status{
		RunID: rc.RunID, RunDir: rc.RunDir, Task: task,
		State: runstore.StateRunning, ReportPath: rc.ReportPath,
	})
	_ = runstore.AppendLog(rc.BridgeLog, fmt.Sprintf("run %s started mode=%s", rc.RunID, mode))

	var (
		r        *report.Report
		exitCode = ExitOK
	)
	switch mode {
	case guardrail.ModeWeb:
		r, exitCode = b.runWeb(ctx, task, rc, flags, logger)
	case guardrail.ModeGUI:
		r, exitCode = b.runGUI(ctx, task, rc, flags, logger)
	default:
		r, exitCode = b.runShell(ctx, task, rc, logger)
	}

	finalized := b.finalize(rc, task, r, flags, logger)
	return RunOutcome{RunID: rc.RunID, RunDir: rc.RunDir, Report: finalized, ExitCode: exitCode}, nil
}

// runWeb parses the plan and drives the engine.
func (b *Bridge) runWeb(ctx context.Context, task string, rc *runstore.RunContext, flags Flags, logger *zap.Logger) (*report.Report, int) {
	parser := steps.NewParser()
	plan, err := parser.Parse(task)
	if err != nil {
		logger.Error("Plan parse failed.", zap.Error(err))
		r := report.New(rc.RunID, "web: "+task)
		r.Result = report.ResultFailed
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("parse failure: %v", err))
		return r, ExitInvalidArgs
	}

	learning := learn.NewStore(b.Store.GlobalLearningPath(), rc.LearningDir)
	result := web.Run(ctx, web.Options{
		Task:            task,
		Plan:            plan,
		Run:             rc,
		Web:             b.Cfg.Web,
		NoiseMode:       b.Cfg.Observer.NoiseMode,
		Teaching:        flags.Teaching,
		Visual:          flags.Visual,
		VisualCursor:    flags.VisualCursor,
		VisualPulse:     flags.VisualPulse,
		HumanMouse:      flags.HumanMouse,
		Verified:        flags.Verified,
		KeepOpen:        flags.KeepOpen,
		AttachSessionID: flags.AttachSessionID,
		Registry:        b.Registry,
		Learning:        learning,
		Logger:          b.Logger,
	})

	exitCode := ExitOK
	switch {
	case result.BootstrapFail:
		exitCode = ExitBootstrap
	case hasRunTimeout(result.Report):
		exitCode = ExitTimeout
	}
	return result.Report, exitCode
}

// runGUI routes window tasks to the deterministic backend and everything
// else through the narrative executor with the GUI discipline prompt.
func (b *Bridge) runGUI(ctx context.Context, task string, rc *runstore.RunContext, flags Flags, logger *zap.Logger) (*report.Report, int) {
	if os.Getenv(config.EnvDisplay) == "" {
		r := report.New(rc.RunID, task)
		r.Result = report.ResultFailed
		r.UIFindings = append(r.UIFindings, "bootstrap failure: DISPLAY is not set; GUI mode needs an X session")
		return r, ExitBootstrap
	}

	if window.ShouldHandle(task) {
		parser := steps.NewParser()
		plan, err := parser.Parse(task)
		if err != nil {
			r := report.New(rc.RunID, task)
			r.Result = report.ResultFailed
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("parse failure: %v", err))
			return r, ExitInvalidArgs
		}
		backend := window.NewBackend(b.Logger, b.Cfg.Runner.Timeout)
		r, err := backend.Run(ctx, plan, task, rc.RunID, rc.RunDir)
		if err != nil {
			r = report.New(rc.RunID, task)
			r.Result = report.ResultFailed
			r.UIFindings = append(r.UIFindings, fmt.Sprintf("window backend failure: %v", err))
			return r, ExitInvalidArgs
		}
		return r, ExitOK
	}
	return b.runNarrative(ctx, task, rc, guardrail.ModeGUI, logger)
}

func (b *Bridge) runShell(ctx context.Context, task string, rc *runstore.RunContext, logger *zap.Logger) (*report.Report, int) {
	return b.runNarrative(ctx, task, rc, guardrail.ModeShell, logger)
}

// runNarrative executes the operator agent and projects its output onto the
// canonical report. actions[] from the narrative channel are re-validated
// against the guardrails; nothing it claims is trusted blindly.
func (b *Bridge) runNarrative(ctx context.Context, task string, rc *runstore.RunContext, mode guardrail.Mode, logger *zap.Logger) (*report.Report, int) {
	operator := runner.New(b.Cfg.Runner, b.Logger)
	prompt := runner.BuildPrompt(rc.RunID, task, rc.RunDir, string(mode))

	result, err := operator.Run(ctx, prompt, rc.HomeDir)
	_ = os.WriteFile(rc.StdoutLog, []byte(result.Stdout), 0o644)
	_ = os.WriteFile(rc.StderrLog, []byte(result.Stderr), 0o644)
	if err != nil {
		r := report.New(rc.RunID, task)
		r.Result = report.ResultFailed
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("bootstrap failure: %v", err))
		return r, ExitBootstrap
	}
	if result.TimedOut {
		r := report.New(rc.RunID, task)
		r.Result = report.ResultPartial
		r.UIFindings = append(r.UIFindings,
			fmt.Sprintf(`{"what_failed":"executor_timeout","where":"run","timeout_seconds":%d}`,
				int(b.Cfg.Runner.Timeout.Seconds())))
		return r, ExitTimeout
	}

	r, parseErr := report.Parse(result.Stdout)
	if parseErr != nil {
		logger.Error("Executor output unparseable.", zap.Error(parseErr))
		r = report.New(rc.RunID, task)
		r.Result = report.ResultFailed
		r.UIFindings = append(r.UIFindings, fmt.Sprintf("executor report invalid: %v", parseErr))
		return r, ExitOK
	}
	r.TaskID = rc.RunID
	if r.Goal == "" {
		r.Goal = task
	}

	// Re-validate every claimed action against the mode guardrails.
	var kept []string
	for _, action := range r.Actions {
		decision := guardrail.EvaluateAction(action, mode)
		if !decision.Allowed {
			r.UIFindings = append(r.UIFindings,
				fmt.Sprintf("guardrail (%s): dropped action: %s", decision.Rule, action))
			continue
		}
		kept = append(kept, action)
	}
	r.Actions = kept
	return r, ExitOK
}

func hasRunTimeout(r *report.Report) bool {
	for _, finding := range r.UIFindings {
		if strings.Contains(finding, "run_timeout") {
			return true
		}
	}
	return false
}
