// File: internal/report/report.go
// Description: The canonical run report contract. Every execution backend
// (shell, gui, web) is projected onto this schema before anything is
// persisted; nothing else ever reaches report.json.
package report

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the tri-state outcome of a run.
type Result string

const (
	ResultSuccess Result = "success"
	ResultPartial Result = "partial"
	ResultFailed  Result = "failed"
)

// RequiredKeys is the exact key set of a well-formed report payload.
var RequiredKeys = []string{
	"task_id",
	"goal",
	"actions",
	"observations",
	"console_errors",
	"network_findings",
	"ui_findings",
	"result",
	"evidence_paths",
}

// Report is the canonical machine-readable output of a run.
type Report struct {
	TaskID          string   `json:"task_id"`
	Goal            string   `json:"goal"`
	Actions         []string `json:"actions"`
	Observations    []string `json:"observations"`
	ConsoleErrors   []string `json:"console_errors"`
	NetworkFindings []string `json:"network_findings"`
	UIFindings      []string `json:"ui_findings"`
	Result          Result   `json:"result"`
	EvidencePaths   []string `json:"evidence_paths"`
}

// New returns a Report with every slice non-nil so marshalling always emits
// arrays, never null.
func New(taskID, goal string) *Report {
	return &Report{
		TaskID:          taskID,
		Goal:            goal,
		Actions:         []string{},
		Observations:    []string{},
		ConsoleErrors:   []string{},
		NetworkFindings: []string{},
		UIFindings:      []string{},
		Result:          ResultPartial,
		EvidencePaths:   []string{},
	}
}

// FromStrictPayload decodes a payload that must carry exactly the required
// keys with the required types. Used for round-trip validation of our own
// output; backend output goes through Parse instead.
func FromStrictPayload(payload map[string]any) (*Report, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	expected := map[string]bool{}
	for _, k := range RequiredKeys {
		expected[k] = true
	}
	var missing, extra []string
	for _, k := range RequiredKeys {
		if _, ok := payload[k]; !ok {
			missing = append(missing, k)
		}
	}
	for _, k := range keys {
		if !expected[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return nil, fmt.Errorf("invalid report keys: missing=%v extra=%v", missing, extra)
	}

	r := &Report{}
	var err error
	if r.TaskID, err = expectString(payload, "task_id"); err != nil {
		return nil, err
	}
	if r.Goal, err = expectString(payload, "goal"); err != nil {
		return nil, err
	}
	if r.Actions, err = expectStringList(payload, "actions"); err != nil {
		return nil, err
	}
	if r.Observations, err = expectStringList(payload, "observations"); err != nil {
		return nil, err
	}
	if r.ConsoleErrors, err = expectStringList(payload, "console_errors"); err != nil {
		return nil, err
	}
	if r.NetworkFindings, err = expectStringList(payload, "network_findings"); err != nil {
		return nil, err
	}
	if r.UIFindings, err = expectStringList(payload, "ui_findings"); err != nil {
		return nil, err
	}
	if r.EvidencePaths, err = expectStringList(payload, "evidence_paths"); err != nil {
		return nil, err
	}
	resultStr, err := expectString(payload, "result")
	if err != nil {
		return nil, err
	}
	r.Result = Result(resultStr)
	switch r.Result {
	case ResultSuccess, ResultPartial, ResultFailed:
	default:
		return nil, fmt.Errorf("invalid result %q, must be one of success|partial|failed", resultStr)
	}
	return r, nil
}

// Marshal renders the report as indented JSON with a trailing newline.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// CoerceResult maps free-text result descriptions onto the enum. Backends
// sometimes report "completed successfully" or "blocked by login"; the
// mapping errs toward partial when the text is ambiguous.
func CoerceResult(value string) Result {
	text := strings.ToLower(strings.TrimSpace(value))
	switch Result(text) {
	case ResultSuccess, ResultPartial, ResultFailed:
		return Result(text)
	}
	for _, token := range []string{"fail", "error", "denied", "blocked"} {
		if strings.Contains(text, token) {
			return ResultFailed
		}
	}
	for _, token := range []string{"partial", "unable", "missing", "not ", "can't"} {
		if strings.Contains(text, token) {
			return ResultPartial
		}
	}
	for _, token := range []string{"success", "completed", "done", "ok"} {
		if strings.Contains(text, token) {
			return ResultSuccess
		}
	}
	return ResultPartial
}

func expectString(payload map[string]any, key string) (string, error) {
	value, ok := payload[key].(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", key)
	}
	return value, nil
}

func expectStringList(payload map[string]any, key string) ([]string, error) {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a list of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%q must contain only strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
