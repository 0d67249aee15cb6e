// File: internal/web/engine_test.go
package web

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

func newClassifyEngine(outcomes []StepOutcome, handoffOpen bool) *Engine {
	return &Engine{
		report:      report.New("r", "web: test"),
		outcomes:    outcomes,
		handoffOpen: handoffOpen,
	}
}

func interactiveOutcome(status OutcomeStatus) StepOutcome {
	return StepOutcome{Step: steps.Step{Kind: steps.KindClickText, Target: "x"}, Status: status}
}

func TestClassifyAllOKIsSuccess(t *testing.T) {
	e := newClassifyEngine([]StepOutcome{
		interactiveOutcome(OutcomeOK),
		{Step: steps.Step{Kind: steps.KindWaitText, Target: "t"}, Status: OutcomeOK},
	}, false)
	e.classify(context.Background())
	assert.Equal(t, report.ResultSuccess, e.report.Result)
}

func TestClassifyMixedIsPartial(t *testing.T) {
	e := newClassifyEngine([]StepOutcome{
		interactiveOutcome(OutcomeOK),
		interactiveOutcome(OutcomeTimeout),
	}, false)
	e.classify(context.Background())
	assert.Equal(t, report.ResultPartial, e.report.Result)
}

func TestClassifyZeroOKIsFailed(t *testing.T) {
	e := newClassifyEngine([]StepOutcome{
		interactiveOutcome(OutcomeTimeout),
		interactiveOutcome(OutcomeTargetNotFound),
	}, false)
	e.classify(context.Background())
	assert.Equal(t, report.ResultFailed, e.report.Result)
}

func TestClassifyOptionalSkipIsNeutral(t *testing.T) {
	optional := StepOutcome{
		Step:   steps.Step{Kind: steps.KindClickText, Target: "Entrar demo", Optional: true},
		Status: OutcomeSkipped,
	}
	e := newClassifyEngine([]StepOutcome{optional, interactiveOutcome(OutcomeOK)}, false)
	e.classify(context.Background())
	assert.Equal(t, report.ResultSuccess, e.report.Result)
}

func TestClassifyHandoffIsPartial(t *testing.T) {
	e := newClassifyEngine([]StepOutcome{interactiveOutcome(OutcomeOK)}, true)
	e.classify(context.Background())
	assert.Equal(t, report.ResultPartial, e.report.Result)
}

func TestClassifyRunTimeout(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	e := newClassifyEngine([]StepOutcome{interactiveOutcome(OutcomeOK)}, false)
	e.classify(expired)
	assert.Equal(t, report.ResultPartial, e.report.Result)
	assert.Contains(t, e.report.UIFindings[len(e.report.UIFindings)-1], "run_timeout")

	e = newClassifyEngine(nil, false)
	e.classify(expired)
	assert.Equal(t, report.ResultFailed, e.report.Result)
}

func TestEvidenceNames(t *testing.T) {
	assert.Equal(t, "step_3_before.png", evidenceName(3, PhaseBefore, 0))
	assert.Equal(t, "step_3_after.png", evidenceName(3, PhaseAfter, 0))
	assert.Equal(t, "step_3_retry_2.png", evidenceName(3, PhaseRetry, 2))
	assert.Equal(t, "step_0_context.png", evidenceName(0, PhaseContext, 0))
	assert.Equal(t, "step_4_timeout.png", evidenceName(4, PhaseTimeout, 0))
}

func TestParseScrollHint(t *testing.T) {
	selector, y := parseScrollHint(".list@340")
	assert.Equal(t, ".list", selector)
	assert.Equal(t, 340, y)

	selector, y = parseScrollHint("520")
	assert.Equal(t, "", selector)
	assert.Equal(t, 520, y)
}

func TestIsUsefulManualClick(t *testing.T) {
	stuck := steps.Step{Kind: steps.KindClickText, Target: "Stop"}
	e := &Engine{stuckStep: &stuck}

	// Overlay chrome never counts.
	assert.False(t, e.isUsefulManualClick("#__bridge_top_bar", "Stop"))
	// Text containment with the stuck objective counts.
	assert.True(t, e.isUsefulManualClick("#player-stop-btn", "Stop"))
	// Selector token match counts even without text.
	assert.True(t, e.isUsefulManualClick("#player-stop-btn", ""))
	// Unrelated clicks do not.
	assert.False(t, e.isUsefulManualClick("#search-input", "Buscar"))
	// Empty selectors are useless.
	assert.False(t, e.isUsefulManualClick("", "Stop"))
}

func TestStuckOutcomeMapping(t *testing.T) {
	assert.Equal(t, OutcomeStuckIframe, stuckOutcomeFor("stuck_iframe_focus"))
	assert.Equal(t, OutcomeTimeout, stuckOutcomeFor("interactive_timeout"))
	assert.Equal(t, OutcomeTargetNotFound, stuckOutcomeFor("target_not_found"))
	assert.Equal(t, OutcomeStuck, stuckOutcomeFor("anything else"))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, isTimeoutError(context.DeadlineExceeded))
	assert.True(t, isTimeoutError(ErrStepTimeout))
	assert.False(t, isTimeoutError(nil))
	assert.True(t, isPageClosedError(context.Canceled))
	assert.False(t, isPageClosedError(ErrStepTimeout))
}
