// File: internal/report/parse.go
// Description: Lossy extraction of a report from narrative executor output.
// The operator agent's stdout is a noisy channel: markdown, progress chatter,
// and possibly several JSON objects. We scan for candidate objects, score
// them by schema overlap, coerce the best one, and refuse to trust it for
// engine-authored fields.
package report

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when the output contains no decodable JSON object.
var ErrNoJSON = errors.New("no valid JSON object found in executor output")

// Parse scans raw narrative output for the best report candidate.
func Parse(raw string) (*Report, error) {
	var (
		bestPayload map[string]any
		bestScore   = -1
		bestReport  *Report
		reportScore = -1
		lastErr     error
	)

	for idx := 0; idx < len(raw); idx++ {
		if raw[idx] != '{' {
			continue
		}
		payload, ok := decodeObjectAt(raw, idx)
		if !ok {
			continue
		}

		score := candidateScore(payload)
		if score > bestScore {
			bestPayload = payload
			bestScore = score
		}

		r, err := FromStrictPayload(coercePayload(payload))
		if err != nil {
			lastErr = err
			continue
		}
		if score >= reportScore {
			bestReport = r
			reportScore = score
		}
	}

	if bestReport != nil {
		return bestReport, nil
	}
	if bestPayload != nil {
		r, err := FromStrictPayload(coercePayload(bestPayload))
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	if bestPayload != nil && lastErr != nil {
		return nil, fmt.Errorf("JSON found but report is invalid: %w", lastErr)
	}
	return nil, ErrNoJSON
}

// decodeObjectAt attempts a raw decode of a JSON object starting at offset.
func decodeObjectAt(raw string, offset int) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(raw[offset:]))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

// candidateScore counts how many canonical report keys the payload carries.
func candidateScore(payload map[string]any) int {
	score := 0
	for _, key := range RequiredKeys {
		if _, ok := payload[key]; ok {
			score++
		}
	}
	return score
}

// coercePayload repairs the common shape mistakes narrative executors make:
// scalar-for-list, dict items inside string lists, free-text results.
func coercePayload(payload map[string]any) map[string]any {
	coerced := make(map[string]any, len(payload))
	for k, v := range payload {
		coerced[k] = v
	}
	for _, key := range []string{
		"actions",
		"observations",
		"console_errors",
		"network_findings",
		"ui_findings",
		"evidence_paths",
	} {
		if value, ok := coerced[key]; ok {
			coerced[key] = toAnyList(coerceStringList(value))
		}
	}
	if value, ok := coerced["result"]; ok {
		coerced["result"] = string(CoerceResult(stringify(value)))
	}
	for _, key := range []string{"task_id", "goal"} {
		if value, ok := coerced[key]; ok {
			if _, isStr := value.(string); !isStr {
				coerced[key] = stringify(value)
			}
		}
	}
	return coerced
}

func coerceStringList(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return []string{stringify(value)}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch typed := item.(type) {
		case string:
			out = append(out, typed)
		case map[string]any:
			action := strings.TrimSpace(stringifyField(typed, "action"))
			details := strings.TrimSpace(stringifyField(typed, "details"))
			switch {
			case action != "" && details != "":
				out = append(out, action+": "+details)
			case action != "":
				out = append(out, action)
			case details != "":
				out = append(out, details)
			default:
				out = append(out, stringify(typed))
			}
		default:
			out = append(out, stringify(item))
		}
	}
	return out
}

func toAnyList(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func stringifyField(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok {
		return ""
	}
	return stringify(value)
}

func stringify(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case nil:
		return ""
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
