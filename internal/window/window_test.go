// File: internal/window/window_test.go
package window

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

// fakeRunner records invocations and returns canned output per binary.
type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	fail    map[string]bool
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail[name] {
		return nil, []byte(name + " exploded"), fmt.Errorf("exit status 1")
	}
	return []byte(f.outputs[name]), nil, nil
}

func newTestBackend(t *testing.T, fake *fakeRunner) (*Backend, string) {
	t.Helper()
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "evidence"), 0o755))
	backend := NewBackend(zap.NewNop(), time.Second)
	backend.RunCommand = fake.run
	backend.LookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	return backend, runDir
}

func TestShouldHandle(t *testing.T) {
	assert.True(t, ShouldHandle("window:list"))
	assert.True(t, ShouldHandle("lista ventanas por favor"))
	assert.True(t, ShouldHandle("activate window Firefox"))
	assert.False(t, ShouldHandle("open the dashboard"))
}

func TestRunWindowList(t *testing.T) {
	fake := &fakeRunner{outputs: map[string]string{"wmctrl": "0x01 desk Firefox\n0x02 desk Terminal\n"}}
	backend, runDir := newTestBackend(t, fake)

	plan := steps.Plan{Steps: []steps.Step{{Kind: steps.KindWindowList}}}
	r, err := backend.Run(context.Background(), plan, "window:list", "run1", runDir)
	require.NoError(t, err)

	assert.Contains(t, r.Actions, "cmd: wmctrl -l")
	assert.Equal(t, report.ResultSuccess, r.Result)
	require.NotEmpty(t, r.Observations)
	assert.Contains(t, r.Observations[0], "2 entries")
	// Evidence triplet per step: before, after, window txt.
	assert.Len(t, r.EvidencePaths, 3)
	assert.FileExists(t, filepath.Join(runDir, "evidence", "step_1_window.txt"))
}

func TestRunWindowActivateFailure(t *testing.T) {
	fake := &fakeRunner{fail: map[string]bool{"wmctrl": true}}
	backend, runDir := newTestBackend(t, fake)

	plan := steps.Plan{Steps: []steps.Step{{Kind: steps.KindWindowActivate, Target: "Firefox"}}}
	r, err := backend.Run(context.Background(), plan, "window:activate Firefox", "run2", runDir)
	require.NoError(t, err)

	assert.Equal(t, report.ResultFailed, r.Result)
	assert.NotEmpty(t, r.ConsoleErrors)
	found := false
	for _, finding := range r.UIFindings {
		if finding == "step 1 verify activation failed" {
			found = true
		}
	}
	assert.True(t, found, "activation failure must be verified: %v", r.UIFindings)
}

func TestRunWindowOpenRequiresAbsoluteURL(t *testing.T) {
	fake := &fakeRunner{}
	backend, runDir := newTestBackend(t, fake)

	plan := steps.Plan{Steps: []steps.Step{{Kind: steps.KindWindowOpen, Target: "not-a-url"}}}
	r, err := backend.Run(context.Background(), plan, "window:open not-a-url", "run3", runDir)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ConsoleErrors)
	assert.Empty(t, r.Actions)
}

func TestRunRejectsPlansWithoutWindowOps(t *testing.T) {
	fake := &fakeRunner{}
	backend, runDir := newTestBackend(t, fake)

	plan := steps.Plan{Steps: []steps.Step{{Kind: steps.KindClickText, Target: "x"}}}
	_, err := backend.Run(context.Background(), plan, "click x", "run4", runDir)
	assert.Error(t, err)
}
