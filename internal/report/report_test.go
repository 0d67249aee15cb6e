// File: internal/report/report_test.go
package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractsBestCandidate(t *testing.T) {
	raw := `
Working on it...
{"progress": "halfway"}
{"task_id": "r1", "goal": "g", "actions": ["cmd: ls"], "observations": [],
 "console_errors": [], "network_findings": [], "ui_findings": [],
 "result": "success", "evidence_paths": []}
done.`

	r, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", r.TaskID)
	assert.Equal(t, ResultSuccess, r.Result)
	assert.Equal(t, []string{"cmd: ls"}, r.Actions)
}

func TestParseCoercesSloppyPayloads(t *testing.T) {
	raw := `{"task_id": "r2", "goal": "g",
 "actions": [{"action": "cmd: ls", "details": "listed files"}],
 "observations": "only one observation",
 "console_errors": [], "network_findings": [], "ui_findings": [],
 "result": "completed successfully", "evidence_paths": []}`

	r, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, r.Result)
	assert.Equal(t, []string{"cmd: ls: listed files"}, r.Actions)
	assert.Equal(t, []string{"only one observation"}, r.Observations)
}

func TestParseNoJSON(t *testing.T) {
	_, err := Parse("nothing here but narration")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestCoerceResult(t *testing.T) {
	cases := map[string]Result{
		"success":              ResultSuccess,
		"FAILED":               ResultFailed,
		"partial":              ResultPartial,
		"request was blocked":  ResultFailed,
		"unable to find x":     ResultPartial,
		"done":                 ResultSuccess,
		"shrug":                ResultPartial,
	}
	for input, expected := range cases {
		assert.Equal(t, expected, CoerceResult(input), "input %q", input)
	}
}

func TestFromStrictPayloadRejectsBadKeys(t *testing.T) {
	_, err := FromStrictPayload(map[string]any{"task_id": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing=")

	payload := map[string]any{
		"task_id": "x", "goal": "g", "actions": []any{}, "observations": []any{},
		"console_errors": []any{}, "network_findings": []any{}, "ui_findings": []any{},
		"result": "success", "evidence_paths": []any{}, "extra_key": true,
	}
	_, err = FromStrictPayload(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extra_key")
}

func TestNormalizerDropsEvidenceTraversal(t *testing.T) {
	runDir := t.TempDir()
	inside := filepath.Join(runDir, "evidence", "step_1_before.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("png"), 0o644))

	r := New("r3", "goal")
	r.EvidencePaths = []string{"../../etc/passwd", inside}

	normalizer := &Normalizer{RunDir: runDir}
	normalizer.Normalize(r)

	assert.NotContains(t, r.EvidencePaths, "../../etc/passwd")
	assert.Contains(t, r.EvidencePaths, inside)
	found := false
	for _, finding := range r.UIFindings {
		if strings.Contains(finding, "guardrail") && strings.Contains(finding, "etc/passwd") {
			found = true
		}
	}
	assert.True(t, found, "a guardrail finding must record the rejection: %v", r.UIFindings)
}

func TestNormalizerActionShape(t *testing.T) {
	r := New("r4", "goal")
	r.Actions = []string{"cmd: ls -la", "rm -rf /", "cmd: ", "cmd: ls -la"}

	normalizer := &Normalizer{}
	normalizer.Normalize(r)

	assert.Equal(t, []string{"cmd: ls -la"}, r.Actions)
	assert.NotEmpty(t, r.UIFindings)
}

func TestNormalizerIdempotent(t *testing.T) {
	runDir := t.TempDir()
	r := New("r5", "goal")
	r.Actions = []string{"cmd: ls", "bogus"}
	r.Observations = []string{"a", "a", "b"}
	r.EvidencePaths = []string{"../escape.png"}
	r.Result = "done"

	normalizer := &Normalizer{RunDir: runDir}
	first := cloneReport(normalizer.Normalize(r))
	second := cloneReport(normalizer.Normalize(r))

	assert.Equal(t, first, second)
}

func TestMarshalEmitsArraysNeverNull(t *testing.T) {
	data, err := New("r6", "g").Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "null")
	assert.Contains(t, string(data), `"actions": []`)
}

func cloneReport(r *Report) Report {
	clone := *r
	clone.Actions = append([]string{}, r.Actions...)
	clone.Observations = append([]string{}, r.Observations...)
	clone.ConsoleErrors = append([]string{}, r.ConsoleErrors...)
	clone.NetworkFindings = append([]string{}, r.NetworkFindings...)
	clone.UIFindings = append([]string{}, r.UIFindings...)
	clone.EvidencePaths = append([]string{}, r.EvidencePaths...)
	return clone
}
