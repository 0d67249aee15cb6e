// File: internal/runner/runner.go
// Description: Wrapper around the operator-agent subprocess (the narrative
// executor). Its stdout/stderr are captured verbatim; parsing happens in the
// report package. The subprocess gets a scoped HOME inside the run dir so it
// cannot litter the real one.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
)

// Result carries the raw subprocess outcome.
type Result struct {
	Stdout     string
	Stderr     string
	ReturnCode int
	TimedOut   bool
}

// Runner executes the configured operator-agent binary.
type Runner struct {
	Cfg    config.RunnerConfig
	Logger *zap.Logger
}

// New wires a Runner.
func New(cfg config.RunnerConfig, logger *zap.Logger) *Runner {
	return &Runner{Cfg: cfg, Logger: logger.Named("runner")}
}

// Run feeds the prompt to the executor over stdin and waits for completion
// or the configured timeout. Timeouts return code 124, mirroring timeout(1).
func (r *Runner) Run(ctx context.Context, prompt, runHomeDir string) (Result, error) {
	command, err := r.resolveCommand()
	if err != nil {
		return Result{}, err
	}
	args := ensureNonInteractiveArgs(normalizeArgs(splitArgs(r.Cfg.ExtraArgs)))

	timeout := r.Cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	if r.Cfg.CollapsePrompt {
		prompt = collapseForStdin(prompt)
	}
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = scopedEnv(runHomeDir)

	r.Logger.Debug("Starting operator agent.",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Duration("timeout", timeout),
	)
	err = cmd.Run()

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ReturnCode = 124
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to run operator agent %s: %w", command, err)
	}
	return result, nil
}

// resolveCommand locates the executor binary, falling back to a project venv.
func (r *Runner) resolveCommand() (string, error) {
	command := strings.TrimSpace(r.Cfg.Command)
	if command == "" {
		return "", fmt.Errorf("operator agent command is empty")
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		return command, nil
	}
	if found, err := exec.LookPath(command); err == nil {
		return found, nil
	}
	venv := filepath.Join(".venv", "bin", command)
	if _, err := os.Stat(venv); err == nil {
		return venv, nil
	}
	return command, nil
}

// scopedEnv rewrites HOME/XDG dirs into the run's private home.
func scopedEnv(runHomeDir string) []string {
	if runHomeDir == "" {
		return os.Environ()
	}
	env := os.Environ()
	out := make([]string, 0, len(env)+3)
	for _, kv := range env {
		if strings.HasPrefix(kv, "HOME=") ||
			strings.HasPrefix(kv, "XDG_CACHE_HOME=") ||
			strings.HasPrefix(kv, "XDG_CONFIG_HOME=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		"HOME="+runHomeDir,
		"XDG_CACHE_HOME="+filepath.Join(runHomeDir, ".cache"),
		"XDG_CONFIG_HOME="+filepath.Join(runHomeDir, ".config"),
	)
	return out
}

func splitArgs(raw string) []string {
	return strings.Fields(raw)
}

// normalizeArgs rewrites long-form flags the executor deprecated.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, token := range args {
		if token == "--yes" {
			out = append(out, "-y")
			continue
		}
		out = append(out, token)
	}
	return out
}

// ensureNonInteractiveArgs forces stdin/plain modes so the executor never
// blocks on a prompt of its own.
func ensureNonInteractiveArgs(args []string) []string {
	hasStdin := false
	hasPlain := false
	for _, token := range args {
		switch token {
		case "--stdin", "-s":
			hasStdin = true
		case "--plain", "-pl":
			hasPlain = true
		}
	}
	if !hasStdin {
		args = append(args, "--stdin")
	}
	if !hasPlain {
		args = append(args, "--plain")
	}
	return args
}

// collapseForStdin flattens the prompt to one line; stdin mode consumes only
// the first line.
func collapseForStdin(prompt string) string {
	var parts []string
	for _, line := range strings.Split(prompt, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ") + "\n"
}
