// File: internal/web/engine.go
// Description: The web execution engine. One engine drives exactly one run
// against exactly one session page. Steps are strictly serial; the browser,
// the control agent and the operator agent are the only other processes.
// Whatever happens, Run returns a well-formed report for the finalizer.
package web

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
	"github.com/xkilldash9x/bridge-cli/internal/learn"
	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/session"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func zapError(err error) zap.Field { return zap.Error(err) }

// OutcomeStatus classifies one step's result.
type OutcomeStatus string

const (
	OutcomeOK             OutcomeStatus = "ok"
	OutcomeTimeout        OutcomeStatus = "timeout"
	OutcomeTargetNotFound OutcomeStatus = "target_not_found"
	OutcomeSkipped        OutcomeStatus = "skipped"
	OutcomeStuck          OutcomeStatus = "stuck"
	OutcomeStuckIframe    OutcomeStatus = "stuck_iframe"
	OutcomeBlocked        OutcomeStatus = "blocked_guardrail"
)

// StepOutcome is the engine's record of one executed step.
type StepOutcome struct {
	Index          int           `json:"index"`
	Step           steps.Step    `json:"step"`
	Status         OutcomeStatus `json:"status"`
	Retries        int           `json:"retries,omitempty"`
	SelectorUsed   string        `json:"selector_used,omitempty"`
	EvidenceBefore string        `json:"evidence_before,omitempty"`
	EvidenceAfter  string        `json:"evidence_after,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

// Options configures one engine run.
type Options struct {
	Task            string
	Plan            steps.Plan
	Run             *runstore.RunContext
	Web             config.WebConfig
	NoiseMode       string
	Teaching        bool
	Visual          bool
	VisualCursor    bool
	VisualPulse     bool
	HumanMouse      bool
	Verified        bool
	KeepOpen        bool
	AttachSessionID string
	Registry        *session.Registry
	Learning        *learn.Store
	Logger          *zap.Logger
}

// RunResult is everything the finalizer needs from the engine.
type RunResult struct {
	Report        *report.Report
	Outcomes      []StepOutcome
	SessionID     string
	HandoffOpen   bool
	BootstrapFail bool
}

// Engine holds per-run execution state.
type Engine struct {
	opts     Options
	logger   *zap.Logger
	run      *runstore.RunContext
	report   *report.Report
	session  *session.WebSession
	agent    *session.Client
	mouse    *mouse
	watchdog WatchdogState

	ownsSession bool
	handoffOpen bool
	released    bool

	stuckStep    *steps.Step
	stuckStepNum int

	currentStep  atomic.Int64
	usefulEvents atomic.Int64
	controlled   atomic.Bool

	contextKey  string
	selectorMap learn.SelectorMap

	outcomes []StepOutcome
	mu       sync.Mutex
}

// Run executes the full engine lifecycle. It never returns a nil report.
func Run(ctx context.Context, opts Options) RunResult {
	e := &Engine{
		opts:   opts,
		logger: opts.Logger.Named("web_engine").With(zap.String("run_id", opts.Run.RunID)),
		run:    opts.Run,
		report: report.New(opts.Run.RunID, "web: "+opts.Task),
	}

	runCtx, cancelRun := context.WithTimeout(ctx, opts.Web.RunHardTimeout)
	defer cancelRun()

	pageCtx, cleanup, err := e.bootstrap(runCtx)
	if err != nil {
		e.logger.Error("Bootstrap failed.", zap.Error(err))
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("bootstrap failure: %v", err))
		e.report.Result = report.ResultFailed
		return RunResult{Report: e.report, BootstrapFail: true, SessionID: e.sessionID()}
	}
	defer cleanup()

	e.runLoop(runCtx, pageCtx)
	e.postLoop(ctx, pageCtx)
	e.classify(runCtx)
	e.teardown(ctx, pageCtx)

	return RunResult{
		Report:      e.report,
		Outcomes:    e.outcomes,
		SessionID:   e.sessionID(),
		HandoffOpen: e.handoffOpen,
	}
}

func (e *Engine) sessionID() string {
	if e.session == nil {
		return ""
	}
	return e.session.SessionID
}

// bootstrap attaches to or creates the session, wires the page context,
// observers and overlays, and captures the baseline context shot.
func (e *Engine) bootstrap(ctx context.Context) (context.Context, func(), error) {
	if err := e.acquireSession(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBootstrap, err)
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, e.session.CDPEndpoint())
	var ctxOpts []chromedp.ContextOption
	if id := e.opts.Registry.PrimaryTargetID(ctx, e.session); id != "" {
		ctxOpts = append(ctxOpts, chromedp.WithTargetID(target.ID(id)))
	}
	pageCtx, cancelPage := chromedp.NewContext(allocCtx, ctxOpts...)
	cleanup := func() {
		cancelPage()
		cancelAlloc()
	}

	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		cleanup()
		// Session was acquired above; do not leave it bound to a dead run.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.opts.Registry.MarkControlled(releaseCtx, e.session, false)
		_ = e.opts.Registry.BindRun(e.session, "")
		return nil, nil, fmt.Errorf("%w: failed to connect to page: %v", ErrBootstrap, err)
	}
	e.installListeners(pageCtx)

	if client, err := session.NewClient(e.session); err == nil {
		e.agent = client
	} else {
		e.logger.Warn("Control agent unreachable at bootstrap.", zap.Error(err))
	}

	if err := e.installTopBar(pageCtx); err != nil {
		e.logger.Warn("Top bar install failed.", zap.Error(err))
	}
	if err := e.installObserver(pageCtx); err != nil {
		e.logger.Warn("Observer install failed.", zap.Error(err))
	}
	if e.opts.Visual {
		e.mouse = newMouse(e.opts.Web.MouseSpeed, e.opts.Web.ClickHold, e.opts.VisualCursor, e.opts.VisualPulse)
		if e.opts.VisualCursor {
			if err := e.installCursor(pageCtx); err != nil {
				e.logger.Warn("Cursor install failed.", zap.Error(err))
			}
		}
	}

	e.captureEvidence(pageCtx, evidenceName(0, PhaseContext, 0))
	e.refreshLearningContext(pageCtx)
	e.maybeInsertDemoLogin(pageCtx)

	return pageCtx, cleanup, nil
}

// acquireSession attaches (with full liveness check) or creates a session,
// then takes assistant control and binds the run.
func (e *Engine) acquireSession(ctx context.Context) error {
	registry := e.opts.Registry
	if e.opts.AttachSessionID != "" {
		s, err := registry.Refresh(ctx, e.opts.AttachSessionID)
		if err != nil {
			return err
		}
		browserAlive, agentOnline := registry.Alive(ctx, s)
		if s.State != session.StateOpen || !browserAlive || !agentOnline {
			return fmt.Errorf("session %s is not attachable (state=%s browser=%t agent=%t)",
				s.SessionID, s.State, browserAlive, agentOnline)
		}
		if s.CurrentRunID != "" && s.CurrentRunID != e.run.RunID {
			return fmt.Errorf("session %s is owned by run %s; release it first", s.SessionID, s.CurrentRunID)
		}
		e.session = s
	} else {
		s, err := registry.Create(ctx, "")
		if err != nil {
			return err
		}
		e.session = s
		e.ownsSession = true
	}

	if err := registry.MarkControlled(ctx, e.session, true); err != nil {
		return err
	}
	e.controlled.Store(true)
	return registry.BindRun(e.session, e.run.RunID)
}

// installListeners wires console/network/page-error observers. Findings are
// stamped with the step index current at capture time and forwarded to the
// control agent best-effort.
func (e *Engine) installListeners(pageCtx context.Context) {
	chromedp.ListenTarget(pageCtx, func(ev any) {
		switch typed := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if typed.Type != runtime.APITypeError && typed.Type != runtime.APITypeWarning {
				return
			}
			message := consoleArgsText(typed.Args)
			step := int(e.currentStep.Load())
			kind := "console_warn"
			if typed.Type == runtime.APITypeError {
				kind = "console_error"
				e.appendConsoleError(fmt.Sprintf("step %d console error: %s", step, message))
				e.usefulEvents.Add(1)
			}
			e.forwardEvent(map[string]any{"type": kind, "message": message, "step": step})

		case *runtime.EventExceptionThrown:
			message := ""
			if typed.ExceptionDetails != nil {
				message = typed.ExceptionDetails.Text
				if typed.ExceptionDetails.Exception != nil && typed.ExceptionDetails.Exception.Description != "" {
					message = typed.ExceptionDetails.Exception.Description
				}
			}
			step := int(e.currentStep.Load())
			e.appendConsoleError(fmt.Sprintf("step %d page error: %s", step, clipString(message, 300)))
			e.usefulEvents.Add(1)
			e.forwardEvent(map[string]any{"type": "page_error", "message": message, "step": step})

		case *network.EventResponseReceived:
			if typed.Response == nil || typed.Response.Status < 400 {
				return
			}
			step := int(e.currentStep.Load())
			finding := fmt.Sprintf("step %d HTTP %d: %s", step, typed.Response.Status, typed.Response.URL)
			e.appendNetworkFinding(finding)
			e.usefulEvents.Add(1)
			e.forwardEvent(map[string]any{
				"type": "network_error", "status": int(typed.Response.Status),
				"url": typed.Response.URL, "step": step,
			})

		case *network.EventLoadingFailed:
			if typed.Canceled {
				return
			}
			step := int(e.currentStep.Load())
			e.appendNetworkFinding(fmt.Sprintf("step %d request failed: %s", step, typed.ErrorText))
			e.forwardEvent(map[string]any{
				"type": "network_error", "status": 0,
				"message": typed.ErrorText, "step": step,
			})
		}
	})
}

func (e *Engine) appendConsoleError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.ConsoleErrors = append(e.report.ConsoleErrors, message)
}

func (e *Engine) appendNetworkFinding(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.NetworkFindings = append(e.report.NetworkFindings, message)
}

// forwardEvent posts to the control agent; observer failures never surface.
func (e *Engine) forwardEvent(payload map[string]any) {
	if e.agent == nil {
		return
	}
	payload["controlled"] = e.controlled.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.agent.PostEvent(ctx, payload); err != nil {
		e.logger.Debug("Event forward failed.", zap.Error(err))
	}
}

// refreshLearningContext derives the context key and loads the selector map.
func (e *Engine) refreshLearningContext(pageCtx context.Context) {
	var origin string
	_ = chromedp.Run(pageCtx, chromedp.Evaluate("location.host", &origin))
	e.contextKey = learn.ContextKey(origin, e.screenSignature(pageCtx))
	e.selectorMap = e.opts.Learning.Load()
}

// maybeInsertDemoLogin prepends the optional demo click when the login button
// is actually on screen and the task did not already ask for it.
func (e *Engine) maybeInsertDemoLogin(pageCtx context.Context) {
	if steps.RequestsLoginClick(e.opts.Plan) {
		e.logger.Debug("Login step already requested by task; skipping auto demo click insertion.")
		return
	}
	probe := e.probeStep(pageCtx, steps.Step{Kind: steps.KindClickText, Target: "Entrar demo"}, "")
	if probe.Found && probe.Visible && probe.Enabled {
		e.report.Observations = append(e.report.Observations, "Login state detected: Entrar demo present and enabled")
		auto := steps.Step{Kind: steps.KindClickText, Target: "Entrar demo", Optional: true, Origin: steps.OriginAuto}
		e.opts.Plan.Steps = append([]steps.Step{auto}, e.opts.Plan.Steps...)
	} else {
		e.report.Observations = append(e.report.Observations, "demo not present; already authed")
	}
}

// runLoop walks the frozen plan.
func (e *Engine) runLoop(runCtx, pageCtx context.Context) {
	total := len(e.opts.Plan.Steps)
	interactiveIdx := 0
	watchCfg := WatchdogConfig{
		StuckIframe:      8 * time.Second,
		StuckStep:        e.opts.Web.StepHardTimeout,
		StuckInteractive: e.opts.Web.InteractiveTimeout,
	}

	for idx, step := range e.opts.Plan.Steps {
		stepNum := idx + 1
		e.currentStep.Store(int64(stepNum))
		e.watchdog.UpdateStepSignature(step.Signature(stepNum, total), learningTargetFor(step), time.Now())
		e.watchdog.PollProgress(int(e.usefulEvents.Load()), time.Now())

		if runCtx.Err() != nil {
			e.report.UIFindings = append(e.report.UIFindings, "run_timeout: hard run deadline reached")
			return
		}

		// Frame guard before anything touches the page.
		if e.iframeFocusLocked(pageCtx) && !e.escapeIframeLock(pageCtx, stepNum, watchCfg) {
			if e.opts.Teaching {
				e.triggerHandoff(runCtx, pageCtx, step, stepNum, "stuck_iframe_focus",
					"iframe holds focus; pointer-events override failed")
				return
			}
			e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeStuckIframe, Reason: "iframe focus locked"})
			continue
		}

		if step.Interactive() {
			interactiveIdx++
			if done := e.runInteractiveStep(runCtx, pageCtx, step, stepNum, interactiveIdx); done {
				return
			}
			continue
		}

		if step.WindowOp() {
			// Window ops belong to the GUI backend; in web mode they are
			// recorded as skipped so plan order stays truthful.
			e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeSkipped, Reason: "window op in web mode"})
			continue
		}

		if done := e.runWaitStep(runCtx, pageCtx, step, stepNum); done {
			return
		}

		// Watchdog sweep between steps: handoff even when no step raised.
		if e.opts.Teaching {
			if reason := e.watchdog.Evaluate(watchCfg, time.Now(), e.iframeFocusLocked(pageCtx)); reason != StuckNone {
				if e.triggerHandoff(runCtx, pageCtx, step, stepNum, string(reason), "no useful progress inside the step window") {
					return
				}
			}
		}
	}
}

// runInteractiveStep handles precheck, retries, evidence and outcome for one
// interactive step. Returns true when the loop must stop.
func (e *Engine) runInteractiveStep(runCtx, pageCtx context.Context, step steps.Step, stepNum, interactiveIdx int) bool {
	if reason := e.notApplicableReason(pageCtx, step); reason != "" {
		e.report.Observations = append(e.report.Observations,
			fmt.Sprintf("step %d skipped (not applicable): %s", stepNum, reason))
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("step %d skipped_not_applicable: %s", stepNum, reason))
		e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeSkipped, Reason: reason})
		e.watchdog.MarkProgress(time.Now())
		return false
	}

	outcome := e.interactWithRetries(runCtx, pageCtx, step, stepNum)
	e.recordOutcome(outcome)

	switch outcome.Status {
	case OutcomeOK:
		e.watchdog.MarkProgress(time.Now())
		if e.opts.Web.PostActionPause > 0 {
			select {
			case <-runCtx.Done():
			case <-time.After(e.opts.Web.PostActionPause):
			}
		}
	case OutcomeTimeout:
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf(`{"what_failed":"interactive_timeout","where":%d,"attempted":"%s"}`, stepNum, step.Kind))
		if e.opts.Teaching {
			return e.triggerHandoff(runCtx, pageCtx, step, stepNum, "interactive_timeout",
				fmt.Sprintf("%s on %s", step.Kind, step.Target))
		}
	case OutcomeTargetNotFound:
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("step %d target not found after retries: %s", stepNum, step.Target))
		if e.opts.Teaching {
			return e.triggerHandoff(runCtx, pageCtx, step, stepNum, "target_not_found",
				fmt.Sprintf("retried %d times with learned selectors and scroll hints", outcome.Retries))
		}
	}
	return false
}

// interactWithRetries runs the primitive over the learned-selector ladder:
// the step's learned selectors first (capped at MaxRetries in teaching
// runs), then the step's own target. In teaching runs every attempt after
// the first replays the scroll hints and leaves its own retry evidence.
func (e *Engine) interactWithRetries(runCtx, pageCtx context.Context, step steps.Step, stepNum int) StepOutcome {
	outcome := StepOutcome{Index: stepNum, Step: step}

	beforePath, _ := e.captureEvidence(pageCtx, evidenceName(stepNum, PhaseBefore, 0))
	outcome.EvidenceBefore = beforePath

	// Learned selectors outrank the step's own target resolution. The retry
	// budget caps how many learned fallbacks a teaching run walks through;
	// the primary resolution always gets its attempt.
	learned := e.opts.Learning.SelectorsFor(e.selectorMap, e.contextKey, step)
	if e.opts.Teaching && len(learned) > e.opts.Web.MaxRetries {
		learned = learned[:e.opts.Web.MaxRetries]
	}
	attempts := append(append([]string{}, learned...), "")

	var lastErr error
	attemptNum := 0
	for _, override := range attempts {
		if runCtx.Err() != nil {
			outcome.Status = OutcomeTimeout
			outcome.Reason = "run deadline"
			return outcome
		}
		if attemptNum > 0 && e.opts.Teaching {
			e.replayScrollHints(pageCtx, e.opts.Learning.ScrollHintsFor(e.selectorMap, e.contextKey, step))
			e.captureEvidence(pageCtx, evidenceName(stepNum, PhaseRetry, attemptNum))
		}
		attemptNum++

		result, err := e.performInteraction(pageCtx, step, override, e.opts.Web.InteractiveTimeout)
		if err == nil {
			if override != "" {
				_ = e.opts.Learning.MarkOutcome(e.contextKey, step.Target, override, true)
			}
			e.appendAction(result.Action)
			if result.Observation != "" {
				e.report.Observations = append(e.report.Observations,
					fmt.Sprintf("step %d %s", stepNum, result.Observation))
			}
			afterPath, ok := e.captureEvidence(pageCtx, evidenceName(stepNum, PhaseAfter, 0))
			outcome.EvidenceAfter = afterPath
			outcome.SelectorUsed = result.SelectorUsed
			outcome.Status = OutcomeOK
			outcome.Retries = attemptNum - 1
			if !ok && e.opts.Verified {
				// Verified mode: a missing after-shot is fatal for the step.
				outcome.Status = OutcomeTimeout
				outcome.Reason = "after evidence missing under verified mode"
				e.removeLastAction()
			}
			return outcome
		}
		lastErr = err
		if override != "" {
			_ = e.opts.Learning.MarkOutcome(e.contextKey, step.Target, override, false)
		}
		if isPageClosedError(err) {
			outcome.Status = OutcomeTimeout
			outcome.Reason = "page closed"
			e.report.UIFindings = append(e.report.UIFindings,
				fmt.Sprintf("step %d run crashed: %v", stepNum, err))
			return outcome
		}
	}

	// Exhausted: timeout without an after-shot appends nothing to actions[].
	e.captureEvidence(pageCtx, evidenceName(stepNum, PhaseTimeout, 0))
	outcome.Retries = attemptNum - 1
	if isTimeoutError(lastErr) {
		outcome.Status = OutcomeTimeout
	} else {
		outcome.Status = OutcomeTargetNotFound
	}
	if lastErr != nil {
		outcome.Reason = lastErr.Error()
	}
	return outcome
}

// runWaitStep executes wait/verify steps. Returns true when the loop must stop.
func (e *Engine) runWaitStep(runCtx, pageCtx context.Context, step steps.Step, stepNum int) bool {
	err := e.performWait(pageCtx, step, e.opts.Web.StepHardTimeout)
	if err == nil {
		var detail string
		switch step.Kind {
		case steps.KindWaitSelector:
			detail = fmt.Sprintf("step %d verify selector visible: %s", stepNum, step.Target)
		case steps.KindWaitText:
			detail = fmt.Sprintf("step %d verify text visible: %s", stepNum, step.Target)
		default:
			detail = fmt.Sprintf("step %d verify visible result: url=%s", stepNum, e.currentURL(pageCtx))
		}
		e.report.UIFindings = append(e.report.UIFindings, detail)
		e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeOK})
		e.watchdog.MarkProgress(time.Now())
		return false
	}

	if isPageClosedError(err) {
		e.report.UIFindings = append(e.report.UIFindings, fmt.Sprintf("step %d run crashed: %v", stepNum, err))
		e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeTimeout, Reason: "page closed"})
		return true
	}

	e.captureEvidence(pageCtx, evidenceName(stepNum, PhaseTimeout, 0))
	e.report.UIFindings = append(e.report.UIFindings,
		fmt.Sprintf(`{"what_failed":"wait_timeout","where":%d,"attempted":"%s %s"}`, stepNum, step.Kind, step.Target))
	e.recordOutcome(StepOutcome{Index: stepNum, Step: step, Status: OutcomeTimeout, Reason: err.Error()})

	if e.opts.Teaching {
		return e.triggerHandoff(runCtx, pageCtx, step, stepNum, "wait_timeout",
			fmt.Sprintf("%s %s did not appear", step.Kind, step.Target))
	}
	return false
}

// escapeIframeLock runs the frame-guard escalation: escape for the full
// iframe threshold, then a pointer-events override with one more attempt.
// Returns true once the main frame holds focus again.
func (e *Engine) escapeIframeLock(pageCtx context.Context, stepNum int, cfg WatchdogConfig) bool {
	if e.forceMainFrameContext(pageCtx, cfg.StuckIframe) {
		return true
	}

	e.report.UIFindings = append(e.report.UIFindings,
		fmt.Sprintf(`{"what_failed":"stuck_iframe_focus","where":%d,"attempted":"main-frame-first precheck failed"}`, stepNum))

	token := e.disableActiveYoutubeIframe(pageCtx)
	escaped := e.forceMainFrameContext(pageCtx, 2*time.Second)
	e.restoreIframePointerEvents(pageCtx, token)
	if escaped {
		e.watchdog.MarkProgress(time.Now())
	}
	return escaped
}

// appendAction records one engine-authored action.
func (e *Engine) appendAction(action string) {
	if action == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.Actions = append(e.report.Actions, action)
}

func (e *Engine) removeLastAction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.report.Actions); n > 0 {
		e.report.Actions = e.report.Actions[:n-1]
	}
}

func (e *Engine) recordOutcome(outcome StepOutcome) {
	e.outcomes = append(e.outcomes, outcome)
}

func (e *Engine) currentURL(ctx context.Context) string {
	var url string
	_ = chromedp.Run(ctx, chromedp.Evaluate("location.href", &url))
	return url
}

// classify applies §result mapping from outcomes and findings.
func (e *Engine) classify(runCtx context.Context) {
	okInteractive := 0
	failures := 0
	for _, o := range e.outcomes {
		if !o.Step.Interactive() {
			if o.Status != OutcomeOK && o.Status != OutcomeSkipped {
				failures++
			}
			continue
		}
		switch o.Status {
		case OutcomeOK:
			okInteractive++
		case OutcomeSkipped:
			// Optional skips are neutral.
			if !o.Step.Optional {
				failures++
			}
		default:
			failures++
		}
	}

	switch {
	case okInteractive == 0:
		e.report.Result = report.ResultFailed
	case failures > 0 || e.handoffOpen:
		e.report.Result = report.ResultPartial
	default:
		e.report.Result = report.ResultSuccess
	}

	if runCtx.Err() != nil {
		if okInteractive > 0 {
			e.report.Result = report.ResultPartial
		} else {
			e.report.Result = report.ResultFailed
		}
		e.report.UIFindings = append(e.report.UIFindings,
			`{"what_failed":"run_timeout","where":"run"}`)
	}
}

// teardown releases control and optionally closes an engine-owned session.
// The learning window keeps a handoff session open regardless of keep-open.
func (e *Engine) teardown(ctx context.Context, pageCtx context.Context) {
	if e.released {
		return
	}
	e.released = true

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.controlled.Store(false)
	if err := e.opts.Registry.MarkControlled(releaseCtx, e.session, false); err != nil {
		e.logger.Warn("Failed to release session control.", zap.Error(err))
	}
	_ = e.opts.Registry.BindRun(e.session, "")

	if e.handoffOpen || e.opts.KeepOpen || !e.ownsSession {
		return
	}
	e.destroyTopBar(pageCtx)
	if err := e.opts.Registry.Close(releaseCtx, e.session); err != nil {
		e.logger.Warn("Failed to close session.", zap.Error(err))
	}
}

func learningTargetFor(step steps.Step) string {
	switch step.Kind {
	case steps.KindClickText, steps.KindClickSelector:
		return step.Target
	}
	return ""
}

func consoleArgsText(args []*runtime.RemoteObject) string {
	var parts []string
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if arg.Value != nil {
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		} else if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return clipString(strings.Join(parts, " "), 400)
}

func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
