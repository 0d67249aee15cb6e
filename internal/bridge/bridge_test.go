// File: internal/bridge/bridge_test.go
package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/session"
)

func newTestBridge(t *testing.T, executorBody string) (*Bridge, *runstore.Store) {
	t.Helper()
	root := t.TempDir()
	store := runstore.NewStore(filepath.Join(root, "runs"))
	registry := session.NewRegistry(store.SessionsDir())

	command := filepath.Join(root, "fake-agent.sh")
	script := "#!/bin/sh\n" + executorBody + "\n"
	require.NoError(t, os.WriteFile(command, []byte(script), 0o755))

	cfg := &config.Config{
		Runner: config.RunnerConfig{
			Command:        command,
			Timeout:        10 * time.Second,
			CollapsePrompt: true,
		},
		Web: config.WebConfig{
			InteractiveTimeout: 2 * time.Second,
			StepHardTimeout:    4 * time.Second,
			RunHardTimeout:     10 * time.Second,
			LearningWindow:     2 * time.Second,
			MaxRetries:         2,
		},
		Observer: config.ObserverConfig{NoiseMode: "minimal"},
		Runs:     config.RunsConfig{Root: store.Root},
	}
	return New(cfg, store, registry, zap.NewNop()), store
}

const validReportScript = `cat - >/dev/null
printf '%s' '{"task_id":"x","goal":"list files","actions":["cmd: ls -la","cmd: rm -rf /"],"observations":["saw files"],"console_errors":[],"network_findings":[],"ui_findings":[],"result":"success","evidence_paths":["../../etc/passwd"]}'`

func TestShellRunFinalizesReportAndStatus(t *testing.T) {
	b, store := newTestBridge(t, validReportScript)

	outcome, err := b.Run(context.Background(), "list the current directory", Flags{Mode: "shell"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Report)

	// Guardrails re-validated the narrative actions: rm is gone.
	assert.Equal(t, []string{"cmd: ls -la"}, outcome.Report.Actions)
	// The traversal path never reaches the persisted report.
	assert.NotContains(t, outcome.Report.EvidencePaths, "../../etc/passwd")

	// report.json exists and round-trips through the strict schema.
	data, err := os.ReadFile(filepath.Join(outcome.RunDir, "report.json"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, jsonUnmarshal(data, &payload))
	_, err = report.FromStrictPayload(payload)
	require.NoError(t, err)

	// status.json left running exactly once, ended completed.
	status, ok, err := store.ReadStatus()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runstore.StateCompleted, status.State)
	assert.Equal(t, outcome.RunID, status.RunID)
}

func TestShellRunGarbageExecutorStillFinalizes(t *testing.T) {
	b, store := newTestBridge(t, `cat - >/dev/null; echo "no json here, sorry"`)

	outcome, err := b.Run(context.Background(), "observe something", Flags{Mode: "shell"})
	require.NoError(t, err)
	assert.Equal(t, report.ResultFailed, outcome.Report.Result)

	status, _, err := store.ReadStatus()
	require.NoError(t, err)
	// No run ends in running (P1).
	assert.NotEqual(t, runstore.StateRunning, status.State)
	assert.FileExists(t, filepath.Join(outcome.RunDir, "report.json"))
}

func TestRunRejectsCodeEditTasks(t *testing.T) {
	b, _ := newTestBridge(t, validReportScript)

	outcome, err := b.Run(context.Background(), "edit src/app.py and fix the bug", Flags{Mode: "shell"})
	require.Error(t, err)
	assert.Equal(t, ExitGuardrail, outcome.ExitCode)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	b, _ := newTestBridge(t, validReportScript)

	outcome, err := b.Run(context.Background(), "anything", Flags{Mode: "quantum"})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidArgs, outcome.ExitCode)
}

func TestRunRejectsEmptyTask(t *testing.T) {
	b, _ := newTestBridge(t, validReportScript)
	outcome, err := b.Run(context.Background(), "  ", Flags{Mode: "shell"})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidArgs, outcome.ExitCode)
}

func TestSensitiveTaskWithoutConfirmationFails(t *testing.T) {
	b, _ := newTestBridge(t, validReportScript)

	// Not a TTY in tests, no --confirm-sensitive: rejected.
	outcome, err := b.Run(context.Background(), "use ssh to reach the box", Flags{Mode: "shell"})
	require.Error(t, err)
	assert.Equal(t, ExitGuardrail, outcome.ExitCode)

	// With the flag the run proceeds.
	outcome, err = b.Run(context.Background(), "use ssh to reach the box",
		Flags{Mode: "shell", ConfirmSensitive: true})
	require.NoError(t, err)
	assert.NotNil(t, outcome.Report)
}

func TestFinalizeActionCountMatchesOkOutcomes(t *testing.T) {
	// A timed-out executor leaves a partial report with zero actions.
	b, _ := newTestBridge(t, "cat - >/dev/null; sleep 30")
	b.Cfg.Runner.Timeout = 300 * time.Millisecond

	outcome, err := b.Run(context.Background(), "observe slowly", Flags{Mode: "shell"})
	require.NoError(t, err)
	assert.Empty(t, outcome.Report.Actions)
	assert.Equal(t, report.ResultPartial, outcome.Report.Result)
	assert.Equal(t, ExitTimeout, outcome.ExitCode)
}

func jsonUnmarshal(data []byte, out any) error {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, out)
}
