// File: internal/web/watchdog.go
// Description: Per-run supervisor state. The watchdog never acts on its own;
// the step loop consults it between suspension points and routes any stuck
// verdict into the handoff pipeline.
package web

import (
	"time"
)

// StuckReason classifies why the watchdog considers the run stuck.
type StuckReason string

const (
	StuckNone        StuckReason = ""
	StuckIframeFocus StuckReason = "stuck_iframe_focus"
	StuckStep        StuckReason = "stuck"
)

// WatchdogConfig carries the stuck thresholds.
type WatchdogConfig struct {
	StuckIframe      time.Duration
	StuckStep        time.Duration
	StuckInteractive time.Duration
}

// WatchdogState tracks useful-progress timing for the current step.
type WatchdogState struct {
	CurrentStepSignature  string
	CurrentLearningTarget string
	LastStepChangeAt      time.Time
	LastProgressEventAt   time.Time
	lastUsefulEvents      int
}

// UpdateStepSignature registers the step now running. A signature change is
// itself progress.
func (w *WatchdogState) UpdateStepSignature(signature, learningTarget string, now time.Time) {
	if signature != w.CurrentStepSignature {
		w.CurrentStepSignature = signature
		w.LastStepChangeAt = now
		w.LastProgressEventAt = now
	}
	w.CurrentLearningTarget = learningTarget
}

// PollProgress ticks when the useful-event counter advanced. Callers decide
// what counts as useful; the engine counts its own console errors, page
// errors and HTTP error responses, with no noise-mode filter.
func (w *WatchdogState) PollProgress(usefulEventCount int, now time.Time) {
	if usefulEventCount > w.lastUsefulEvents {
		w.lastUsefulEvents = usefulEventCount
		w.LastProgressEventAt = now
	}
}

// MarkProgress records direct progress (action appended, finding recorded).
func (w *WatchdogState) MarkProgress(now time.Time) {
	w.LastProgressEventAt = now
}

// Evaluate returns the stuck verdict for the current instant. Iframe lock
// outranks the generic step stall.
func (w *WatchdogState) Evaluate(cfg WatchdogConfig, now time.Time, iframeFocusLocked bool) StuckReason {
	if w.CurrentStepSignature == "" {
		return StuckNone
	}
	if iframeFocusLocked && now.Sub(w.LastProgressEventAt) > maxDuration(100*time.Millisecond, cfg.StuckIframe) {
		return StuckIframeFocus
	}
	if now.Sub(w.LastStepChangeAt) > maxDuration(100*time.Millisecond, cfg.StuckStep) {
		return StuckStep
	}
	if now.Sub(w.LastProgressEventAt) > maxDuration(100*time.Millisecond, cfg.StuckInteractive) {
		return StuckStep
	}
	return StuckNone
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
