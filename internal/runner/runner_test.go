// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
)

func TestNormalizeArgs(t *testing.T) {
	assert.Equal(t, []string{"-y", "--model", "x"}, normalizeArgs([]string{"--yes", "--model", "x"}))
	assert.Equal(t, []string{"-y"}, normalizeArgs([]string{"-y"}))
}

func TestEnsureNonInteractiveArgs(t *testing.T) {
	args := ensureNonInteractiveArgs([]string{"-y"})
	assert.Contains(t, args, "--stdin")
	assert.Contains(t, args, "--plain")

	// Already present flags are not duplicated.
	args = ensureNonInteractiveArgs([]string{"-s", "-pl"})
	assert.NotContains(t, args, "--stdin")
	assert.NotContains(t, args, "--plain")
}

func TestCollapseForStdin(t *testing.T) {
	prompt := "line one\n\n  line two  \nline three\n"
	collapsed := collapseForStdin(prompt)
	assert.Equal(t, "line one line two line three\n", collapsed)
	assert.Equal(t, 1, strings.Count(collapsed, "\n"))
}

func TestScopedEnvRewritesHome(t *testing.T) {
	env := scopedEnv("/runs/r1/.oi_home")
	var home, cache string
	for _, kv := range env {
		if strings.HasPrefix(kv, "HOME=") {
			home = kv
		}
		if strings.HasPrefix(kv, "XDG_CACHE_HOME=") {
			cache = kv
		}
	}
	assert.Equal(t, "HOME=/runs/r1/.oi_home", home)
	assert.Equal(t, "XDG_CACHE_HOME=/runs/r1/.oi_home/.cache", cache)
}

func TestBuildPromptShellMode(t *testing.T) {
	prompt := BuildPrompt("r1", "check the service", "/runs/r1", "shell")
	assert.Contains(t, prompt, "task_id: r1")
	assert.Contains(t, prompt, "goal: check the service")
	assert.Contains(t, prompt, "Execution mode: shell")
	assert.Contains(t, prompt, `"cmd: <exact command>"`)
	assert.Contains(t, prompt, "/runs/r1")
	assert.NotContains(t, prompt, "gui mode")
}

func TestBuildPromptGUIMode(t *testing.T) {
	prompt := BuildPrompt("r2", "click the save button", "/runs/r2", "gui")
	assert.Contains(t, prompt, "In gui mode")
	assert.Contains(t, prompt, "step_N_before.png")
	assert.Contains(t, prompt, "/runs/r2/evidence")
	assert.Contains(t, prompt, "scrot")
}

// writeScript drops an executable shell stub standing in for the operator
// agent, which accepts the injected --stdin/--plain flags.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunEchoExecutor(t *testing.T) {
	r := New(config.RunnerConfig{
		Command:        writeScript(t, "cat -"),
		Timeout:        5 * time.Second,
		CollapsePrompt: true,
	}, zap.NewNop())

	result, err := r.Run(context.Background(), "hello\nworld\n", "")
	require.NoError(t, err)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 0, result.ReturnCode)
	assert.Equal(t, "hello world\n", result.Stdout)
}

func TestRunTimeout(t *testing.T) {
	r := New(config.RunnerConfig{
		Command: writeScript(t, "sleep 5"),
		Timeout: 200 * time.Millisecond,
	}, zap.NewNop())

	result, err := r.Run(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, 124, result.ReturnCode)
}
