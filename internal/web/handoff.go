// File: internal/web/handoff.go
// Description: Teaching handoff. When a stuck predicate fires, the engine
// releases control, turns the overlay orange, and opens a bounded learning
// window during which a useful manual click becomes a learned selector. A
// capture triggers one resume attempt of the stuck step.
package web

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/learn"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

const (
	noticeOrange = "rgba(245,158,11,0.95)"
	noticeGreen  = "rgba(16,185,129,0.96)"
	noticeRed    = "rgba(239,68,68,0.96)"
)

// triggerHandoff performs the control transition. Returns true so the step
// loop stops; the post-loop owns the session from here.
func (e *Engine) triggerHandoff(runCtx, pageCtx context.Context, step steps.Step, stepNum int, whatFailed, attempted string) bool {
	if e.handoffOpen {
		return true
	}
	e.handoffOpen = true
	e.stuckStep = &step
	e.stuckStepNum = stepNum

	e.report.UIFindings = append(e.report.UIFindings, fmt.Sprintf(
		`{"what_failed":%q,"where":%d,"attempted":%q,"next_best_action":"human_assist"}`,
		whatFailed, stepNum, attempted))

	// The failing path already recorded this step's outcome; record one here
	// only when the watchdog fired between steps.
	if len(e.outcomes) == 0 || e.outcomes[len(e.outcomes)-1].Index != stepNum {
		e.recordOutcome(StepOutcome{
			Index: stepNum, Step: step,
			Status: stuckOutcomeFor(whatFailed),
			Reason: attempted,
		})
	}

	// Release assistant control; the window stays open regardless of
	// keep-open while the learning window runs.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.controlled.Store(false)
	if err := e.opts.Registry.MarkControlled(releaseCtx, e.session, false); err != nil {
		e.logger.Warn("Failed to release control for handoff.", zap.Error(err))
	}
	e.notifyLearning(true)

	e.showNotice(pageCtx, fmt.Sprintf(
		"Me he atascado en: %s. Te cedo el control para que me ayudes.",
		step.Signature(stepNum, len(e.opts.Plan.Steps))), noticeOrange)

	e.logger.Info("Handoff opened.",
		zap.String("what_failed", whatFailed),
		zap.Int("step", stepNum),
		zap.String("target", step.Target),
	)
	return true
}

func stuckOutcomeFor(whatFailed string) OutcomeStatus {
	switch whatFailed {
	case "stuck_iframe_focus":
		return OutcomeStuckIframe
	case "interactive_timeout", "wait_timeout":
		return OutcomeTimeout
	case "target_not_found":
		return OutcomeTargetNotFound
	}
	return OutcomeStuck
}

// notifyLearning flips the agent's learning window flag so the overlay turns
// orange within one poll cycle.
func (e *Engine) notifyLearning(active bool) {
	if e.agent == nil {
		return
	}
	kind := "learning_off"
	payload := map[string]any{"type": kind}
	if active {
		payload["type"] = "learning_on"
		payload["window_seconds"] = int(e.opts.Web.LearningWindow.Seconds())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.agent.PostEvent(ctx, payload); err != nil {
		e.logger.Debug("Learning state notify failed.", zap.Error(err))
	}
}

// postLoop observes the learning window after a handoff and attempts a
// resume on capture. Without a handoff it is a no-op.
func (e *Engine) postLoop(ctx context.Context, pageCtx context.Context) {
	if !e.handoffOpen || e.stuckStep == nil {
		return
	}

	capture, ok := e.observeLearningWindow(ctx)
	if !ok {
		// Expiry without capture: leave the session under user control.
		e.notifyLearning(false)
		e.report.Observations = append(e.report.Observations,
			fmt.Sprintf("learning window expired without a useful manual click for step %d", e.stuckStepNum))
		return
	}

	artifact, err := e.opts.Learning.RecordCapture(capture)
	if err != nil {
		e.logger.Warn("Failed to persist learning capture.", zap.Error(err))
		e.notifyLearning(false)
		return
	}
	if artifact != "" {
		e.report.EvidencePaths = append(e.report.EvidencePaths, artifact)
	}
	e.report.Observations = append(e.report.Observations,
		fmt.Sprintf("learned selector for %q: %s", e.stuckStep.Target, capture.Selector))

	e.showNotice(pageCtx, fmt.Sprintf(
		"Gracias, ya he aprendido dónde está %s. Ya continúo yo.",
		firstNonEmptyString(e.stuckStep.Target, "ese control")), noticeGreen)
	e.notifyLearning(false)

	e.resumeStuckStep(ctx, pageCtx, capture.Selector)
}

// observeLearningWindow polls the control agent for a useful manual click: in
// the main document, not on injected chrome, semantically consistent with the
// stuck objective.
func (e *Engine) observeLearningWindow(ctx context.Context) (learn.Capture, bool) {
	if e.agent == nil {
		return learn.Capture{}, false
	}
	deadline := time.Now().Add(e.opts.Web.LearningWindow)
	seen := map[string]bool{}
	var scrollHints []string

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return learn.Capture{}, false
		case <-time.After(900 * time.Millisecond):
		}

		stateCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		state, err := e.agent.State(stateCtx)
		cancel()
		if err != nil {
			continue
		}
		events, _ := state["recent_events"].([]any)
		for _, raw := range events {
			event, _ := raw.(map[string]any)
			if event == nil {
				continue
			}
			kind, _ := event["type"].(string)
			createdAt, _ := event["created_at"].(string)
			dedupeKey := kind + "|" + createdAt + "|" + asStr(event["selector"])
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true

			switch kind {
			case "scroll":
				if hint := scrollHintFromEvent(event); hint != "" {
					scrollHints = append(scrollHints, hint)
				}
			case "manual_click":
				selector := asStr(event["selector"])
				text := asStr(event["text"])
				if !e.isUsefulManualClick(selector, text) {
					continue
				}
				return learn.Capture{
					Target:      e.stuckStep.Target,
					Selector:    selector,
					Text:        text,
					URL:         asStr(event["url"]),
					ContextKey:  e.contextKey,
					ScrollHints: scrollHints,
					Source:      "manual_teaching",
					Timestamp:   createdAt,
				}, true
			}
		}
	}
	return learn.Capture{}, false
}

// isUsefulManualClick applies the semantic-consistency filter.
func (e *Engine) isUsefulManualClick(selector, text string) bool {
	if selector == "" || strings.Contains(selector, "__bridge_") {
		return false
	}
	if !learn.IsSpecificSelector(selector) {
		return false
	}
	target := strings.ToLower(strings.TrimSpace(e.stuckStep.Target))
	if target == "" {
		return true
	}
	lowText := strings.ToLower(strings.TrimSpace(text))
	lowSelector := strings.ToLower(selector)
	if lowText != "" && (strings.Contains(lowText, target) || strings.Contains(target, lowText)) {
		return true
	}
	normalized := learn.NormalizeTargetKey(target)
	for _, token := range strings.Fields(normalized) {
		if len(token) >= 3 && strings.Contains(lowSelector, token) {
			return true
		}
	}
	return false
}

// resumeStuckStep re-runs the stuck step once with the fresh selector as
// primary. Success reopens assistant control just long enough to finish.
func (e *Engine) resumeStuckStep(ctx context.Context, pageCtx context.Context, selector string) {
	resumeCtx, cancel := context.WithTimeout(ctx, e.opts.Web.StepHardTimeout)
	defer cancel()

	if err := e.opts.Registry.MarkControlled(resumeCtx, e.session, true); err != nil {
		e.logger.Warn("Failed to retake control for resume.", zap.Error(err))
		return
	}
	e.controlled.Store(true)

	result, err := e.performInteraction(pageCtx, *e.stuckStep, selector, e.opts.Web.InteractiveTimeout)
	if err != nil {
		_ = e.opts.Learning.MarkOutcome(e.contextKey, e.stuckStep.Target, selector, false)
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("step %d learning-resume failed: %v", e.stuckStepNum, err))
		e.showNotice(pageCtx, fmt.Sprintf(
			"Ese click no coincide. El objetivo es '%s'.", e.stuckStep.Target), noticeRed)
		return
	}

	_ = e.opts.Learning.MarkOutcome(e.contextKey, e.stuckStep.Target, selector, true)
	e.appendAction(result.Action)
	e.captureEvidence(pageCtx, evidenceName(e.stuckStepNum, PhaseAfter, 0))
	e.report.Observations = append(e.report.Observations,
		fmt.Sprintf("step %d learning-resume succeeded with selector %s", e.stuckStepNum, selector))

	// Rewrite the stuck outcome: the step completed after teaching.
	for i := len(e.outcomes) - 1; i >= 0; i-- {
		if e.outcomes[i].Index == e.stuckStepNum {
			e.outcomes[i].Status = OutcomeOK
			e.outcomes[i].SelectorUsed = selector
			break
		}
	}
	e.handoffOpen = false
}

func scrollHintFromEvent(event map[string]any) string {
	y := 0
	if f, ok := event["scroll_y"].(float64); ok {
		y = int(f)
	}
	if y <= 0 {
		return ""
	}
	selector := asStr(event["selector"])
	if selector != "" {
		return fmt.Sprintf("%s@%d", selector, y)
	}
	return fmt.Sprintf("%d", y)
}

func asStr(v any) string {
	s, _ := v.(string)
	return s
}
