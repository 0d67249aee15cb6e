// File: internal/report/normalize.go
package report

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ActionPrefix is the only shape an accepted action may take.
const ActionPrefix = "cmd: "

// Normalizer projects partial or untrusted report material onto the canonical
// contract. Normalization is idempotent: normalize(normalize(x)) == normalize(x).
type Normalizer struct {
	// RunDir is the canonical evidence boundary. Every evidence path must
	// resolve inside it after symlink evaluation. Empty disables containment
	// (tests only).
	RunDir string
}

// Normalize rewrites the report in place and returns it. Rejected entries are
// recorded as guardrail findings rather than silently vanishing.
func (n *Normalizer) Normalize(r *Report) *Report {
	r.Actions = n.normalizeActions(r)
	r.Observations = dedupeStrings(r.Observations)
	r.ConsoleErrors = dedupeStrings(r.ConsoleErrors)
	r.NetworkFindings = dedupeStrings(r.NetworkFindings)
	r.EvidencePaths = n.normalizeEvidence(r)
	r.UIFindings = dedupeStrings(r.UIFindings)
	r.Result = CoerceResult(string(r.Result))
	return r
}

func (n *Normalizer) normalizeActions(r *Report) []string {
	out := make([]string, 0, len(r.Actions))
	for _, action := range r.Actions {
		trimmed := strings.TrimSpace(action)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ActionPrefix) || strings.TrimSpace(strings.TrimPrefix(trimmed, ActionPrefix)) == "" {
			r.UIFindings = append(r.UIFindings,
				fmt.Sprintf("guardrail: dropped malformed action entry (must match 'cmd: <command>'): %s", truncate(trimmed, 160)))
			continue
		}
		out = append(out, trimmed)
	}
	return dedupeStrings(out)
}

func (n *Normalizer) normalizeEvidence(r *Report) []string {
	out := make([]string, 0, len(r.EvidencePaths))
	for _, path := range r.EvidencePaths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if n.RunDir != "" {
			contained, err := PathInside(n.RunDir, trimmed)
			if err != nil || !contained {
				r.UIFindings = append(r.UIFindings,
					fmt.Sprintf("guardrail: dropped evidence path outside run directory: %s", truncate(trimmed, 200)))
				continue
			}
		}
		out = append(out, trimmed)
	}
	return dedupeStrings(out)
}

// PathInside reports whether candidate resolves inside root after symlink and
// relative-segment resolution. Nonexistent paths are resolved lexically so a
// claim about a file that was never written is still judged by where it
// would live.
func PathInside(root, candidate string) (bool, error) {
	rootAbs, err := canonicalize(root)
	if err != nil {
		return false, err
	}
	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	pathAbs, err := canonicalize(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false, err
	}
	if rel == "." {
		return true, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// canonicalize resolves symlinks for the longest existing prefix, then joins
// the remainder lexically.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(filepath.Clean(abs))
	var tail []string
	for dir != "" && base != "" {
		tail = append([]string{base}, tail...)
		parent := filepath.Clean(dir)
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		dir, base = filepath.Split(parent)
		if parent == filepath.Dir(parent) {
			break
		}
	}
	return filepath.Clean(abs), nil
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
