// File: internal/guardrail/guardrail_test.go
package guardrail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCommandAllowlist(t *testing.T) {
	cases := []struct {
		name    string
		command string
		mode    Mode
		allowed bool
		rule    string
	}{
		{"observation ok", "ls -la /tmp", ModeShell, true, ""},
		{"grep ok", `grep -r "pattern" .`, ModeShell, true, ""},
		{"rm blocked", "rm -rf /", ModeShell, false, "destructive"},
		{"dd blocked", "dd if=/dev/zero of=/dev/sda", ModeShell, false, "destructive"},
		{"forkbomb blocked", ":(){:|:&};:", ModeShell, false, "destructive"},
		{"redirect blocked", "echo hi > /etc/passwd", ModeShell, false, "destructive"},
		{"git blocked", "git push --force", ModeShell, false, "destructive"},
		{"unknown binary", "fancytool --scan", ModeShell, false, "allowlist"},
		{"scrot shell-denied", "scrot shot.png", ModeShell, false, "allowlist"},
		{"scrot gui-allowed", "scrot shot.png", ModeGUI, true, ""},
		{"import gui-allowed", "import -window root shot.png", ModeGUI, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := EvaluateCommand(tc.command, tc.mode)
			assert.Equal(t, tc.allowed, decision.Allowed, decision.Reason)
			if tc.rule != "" {
				assert.Equal(t, tc.rule, decision.Rule)
			}
		})
	}
}

func TestEvaluateCommandGUIClickRules(t *testing.T) {
	// Coordinate clicks are always rejected.
	decision := EvaluateCommand("xdotool mousemove 100 200 click 1", ModeGUI)
	require.False(t, decision.Allowed)
	assert.Equal(t, "gui-coordinate-click", decision.Rule)

	// State-changing actions need an explicit window target.
	decision = EvaluateCommand("xdotool key Return", ModeGUI)
	require.False(t, decision.Allowed)
	assert.Equal(t, "gui-window-target", decision.Rule)

	decision = EvaluateCommand("xdotool key --window 12345 Return", ModeGUI)
	assert.True(t, decision.Allowed, decision.Reason)
}

func TestEvaluateCommandSensitive(t *testing.T) {
	decision := EvaluateCommand("curl http://internal.host/health", ModeShell)
	require.True(t, decision.Allowed)
	assert.True(t, decision.Sensitive)
	assert.Equal(t, "sensitive", decision.Rule)
}

func TestEvaluateActionShape(t *testing.T) {
	assert.False(t, EvaluateAction("ls -la", ModeShell).Allowed)
	assert.False(t, EvaluateAction("cmd:", ModeShell).Allowed)
	assert.False(t, EvaluateAction("cmd:  ", ModeShell).Allowed)
	assert.True(t, EvaluateAction("cmd: ls -la", ModeShell).Allowed)
}

func TestEvaluateActionWebMode(t *testing.T) {
	assert.True(t, EvaluateAction("cmd: playwright open http://localhost:5173", ModeWeb).Allowed)
	assert.True(t, EvaluateAction("cmd: playwright click text:Entrar demo", ModeWeb).Allowed)
	assert.False(t, EvaluateAction("cmd: ls -la", ModeWeb).Allowed)
	assert.False(t, EvaluateAction("cmd: rm -rf /", ModeWeb).Allowed)
}

func TestTaskViolatesCodeEditRule(t *testing.T) {
	assert.True(t, TaskViolatesCodeEditRule("edit src/main.py to add logging"))
	assert.True(t, TaskViolatesCodeEditRule("refactor the handler in server.go"))
	assert.False(t, TaskViolatesCodeEditRule("open the dashboard and verify the chart"))
	assert.False(t, TaskViolatesCodeEditRule("edit the playlist name"))
}

func TestTaskSensitiveIntents(t *testing.T) {
	hits := TaskSensitiveIntents("use curl to probe, then ssh into the box")
	assert.ElementsMatch(t, []string{"curl", "ssh"}, hits)
	assert.Empty(t, TaskSensitiveIntents("click the button"))
}

func TestConfirmSensitive(t *testing.T) {
	// Auto-confirm bypasses the prompt.
	err := ConfirmSensitive([]string{"curl"}, true, strings.NewReader(""), &strings.Builder{}, false)
	assert.NoError(t, err)

	// No TTY and no auto-confirm rejects.
	err = ConfirmSensitive([]string{"curl"}, false, strings.NewReader(""), &strings.Builder{}, false)
	assert.Error(t, err)

	// TTY with YES approves, anything else rejects.
	out := &strings.Builder{}
	err = ConfirmSensitive([]string{"curl"}, false, strings.NewReader("YES\n"), out, true)
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "curl")

	err = ConfirmSensitive([]string{"curl"}, false, strings.NewReader("nope\n"), &strings.Builder{}, true)
	assert.Error(t, err)
}

func TestEvaluateCommandMalformed(t *testing.T) {
	decision := EvaluateCommand(`ls "unterminated`, ModeShell)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "shape", decision.Rule)
}
