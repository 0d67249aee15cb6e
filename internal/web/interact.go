// File: internal/web/interact.go
// Description: The step primitives. Every interactive primitive follows the
// same shape: applicability precheck, frame guard, the interaction itself
// under the interactive deadline, and a truthful outcome for the loop.
package web

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

// targetProbe is the JS-side view of a candidate element.
type targetProbe struct {
	Found    bool    `json:"found"`
	Visible  bool    `json:"visible"`
	Enabled  bool    `json:"enabled"`
	Selector string  `json:"selector"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Reason   string  `json:"reason"`
}

// probeSelectorJS inspects one CSS selector for presence/visibility/enablement
// and returns the center point for mouse targeting.
const probeSelectorJS = `
((selector) => {
  const out = {found: false, visible: false, enabled: false, selector: selector, x: 0, y: 0, reason: ''};
  let el = null;
  try { el = document.querySelector(selector); } catch (e) { out.reason = 'invalid selector'; return out; }
  if (!el) { out.reason = 'not present'; return out; }
  out.found = true;
  const rect = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  out.visible = rect.width > 0 && rect.height > 0 &&
    style.visibility !== 'hidden' && style.display !== 'none';
  if (!out.visible) { out.reason = 'not visible'; return out; }
  out.enabled = !el.disabled && style.pointerEvents !== 'none';
  if (!out.enabled) { out.reason = 'not enabled'; return out; }
  out.x = rect.left + rect.width / 2;
  out.y = rect.top + rect.height / 2;
  return out;
})`

// probeTextJS finds the best visible clickable element containing the text.
// Hidden elements and <option> entries never match; clickables win over
// plain containers.
const probeTextJS = `
((text) => {
  const out = {found: false, visible: false, enabled: false, selector: '', x: 0, y: 0, reason: ''};
  const needle = String(text).trim().toLowerCase();
  if (!needle) { out.reason = 'empty text'; return out; }
  const cssPath = (el) => {
    const parts = [];
    while (el && el.nodeType === Node.ELEMENT_NODE && parts.length < 5) {
      let part = el.tagName.toLowerCase();
      if (el.id) { parts.unshift(part + '#' + el.id); break; }
      const parent = el.parentElement;
      if (parent) {
        const siblings = Array.from(parent.children).filter(c => c.tagName === el.tagName);
        if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
      }
      parts.unshift(part);
      el = parent;
    }
    return parts.join(' > ');
  };
  const visible = (el) => {
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    return rect.width > 0 && rect.height > 0 &&
      style.visibility !== 'hidden' && style.display !== 'none';
  };
  const clickable = 'button, a, [role=button], input[type=button], input[type=submit], [onclick]';
  let best = null;
  for (const el of document.querySelectorAll(clickable)) {
    if (el.tagName === 'OPTION') continue;
    const label = String(el.innerText || el.value || '').trim().toLowerCase();
    if (!label || !label.includes(needle)) continue;
    if (!visible(el)) continue;
    if (label === needle) { best = el; break; }
    if (!best) best = el;
  }
  if (!best) {
    for (const el of document.querySelectorAll('*')) {
      if (el.tagName === 'OPTION' || el.tagName === 'SCRIPT' || el.tagName === 'STYLE') continue;
      if (el.children.length > 0) continue;
      const label = String(el.innerText || '').trim().toLowerCase();
      if (!label || !label.includes(needle)) continue;
      if (!visible(el)) continue;
      best = el;
      break;
    }
  }
  if (!best) { out.reason = 'not present'; return out; }
  out.found = true;
  out.visible = true;
  out.enabled = !best.disabled;
  if (!out.enabled) { out.reason = 'not enabled'; return out; }
  const rect = best.getBoundingClientRect();
  out.selector = cssPath(best);
  out.x = rect.left + rect.width / 2;
  out.y = rect.top + rect.height / 2;
  return out;
})`

// textVisibleJS checks the wait-text predicate against visible content only.
const textVisibleJS = `
((text) => {
  const needle = String(text).trim().toLowerCase();
  if (!needle) return false;
  const walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_TEXT);
  while (walker.nextNode()) {
    const node = walker.currentNode;
    if (!node.nodeValue || !node.nodeValue.toLowerCase().includes(needle)) continue;
    const el = node.parentElement;
    if (!el || el.tagName === 'OPTION' || el.tagName === 'SCRIPT' || el.tagName === 'STYLE') continue;
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    if (rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none') {
      return true;
    }
  }
  return false;
})`

// fillJS focuses the field, sets the value and fires input/change.
const fillJS = `
((selector, value) => {
  const el = document.querySelector(selector);
  if (!el) return 'not present';
  el.focus();
  const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, 'value');
  if (setter && setter.set) { setter.set.call(el, value); } else { el.value = value; }
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return '';
})`

// selectJS picks an option by label first, then by value, when preferLabel
// is set; otherwise by value first, then by label.
const selectJS = `
((selector, wanted, preferLabel) => {
  const el = document.querySelector(selector);
  if (!el || el.tagName !== 'SELECT') return 'not present';
  const options = Array.from(el.options);
  const needle = String(wanted).trim().toLowerCase();
  let match = null;
  if (preferLabel) {
    match = options.find(o => String(o.label || o.text || '').trim().toLowerCase() === needle) ||
            options.find(o => String(o.value || '').trim().toLowerCase() === needle);
  } else {
    match = options.find(o => String(o.value || '').trim().toLowerCase() === needle) ||
            options.find(o => String(o.label || o.text || '').trim().toLowerCase() === needle);
  }
  if (!match) return 'option not found';
  el.value = match.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return '';
})`

// bulkCardsJS clicks the selector inside every card whose text matches.
const bulkCardsJS = `
((selector, cardSelector, text) => {
  const needle = String(text).trim().toLowerCase();
  let clicked = 0;
  for (const card of document.querySelectorAll(cardSelector)) {
    const label = String(card.innerText || '').toLowerCase();
    if (needle && !label.includes(needle)) continue;
    const btn = card.querySelector(selector);
    if (!btn) continue;
    btn.click();
    clicked++;
  }
  return clicked;
})`

// bulkUntilEmptyJS clicks the first selector match repeatedly with a bounded
// iteration count so a re-rendering list cannot spin forever.
const bulkUntilEmptyJS = `
((selector) => {
  let clicked = 0;
  for (let i = 0; i < 200; i++) {
    const el = document.querySelector(selector);
    if (!el) break;
    el.click();
    clicked++;
  }
  return clicked;
})`

// jsClickJS is the non-visual fallback click.
const jsClickJS = `
((selector) => {
  const el = document.querySelector(selector);
  if (!el) return 'not present';
  el.click();
  return '';
})`

// scrollHintJS replays a recorded scroll hint, container first.
const scrollHintJS = `
((selector, y) => {
  if (selector) {
    const el = document.querySelector(selector);
    if (el) { el.scrollTop = y; return true; }
  }
  window.scrollTo(0, y);
  return true;
})`

// interactionResult is what one primitive attempt reports back to the loop.
type interactionResult struct {
	Action       string
	SelectorUsed string
	Observation  string
}

// probeStep resolves the step's target. selectorOverride substitutes a
// learned selector for the step's own target.
func (e *Engine) probeStep(ctx context.Context, step steps.Step, selectorOverride string) targetProbe {
	var probe targetProbe
	var js string
	switch {
	case selectorOverride != "":
		js = probeSelectorJS + "(" + jsString(selectorOverride) + ")"
	case step.Kind == steps.KindClickText:
		js = probeTextJS + "(" + jsString(step.Target) + ")"
	default:
		js = probeSelectorJS + "(" + jsString(step.Target) + ")"
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &probe)); err != nil {
		probe.Reason = fmt.Sprintf("probe failed: %v", err)
	}
	return probe
}

// notApplicableReason checks present ∧ visible ∧ enabled for interactive
// steps. Empty string means applicable.
func (e *Engine) notApplicableReason(ctx context.Context, step steps.Step) string {
	switch step.Kind {
	case steps.KindOpenURL, steps.KindBulkClickEmpty, steps.KindBulkClickCards:
		return ""
	case steps.KindClickText, steps.KindClickSelector, steps.KindFillSelector,
		steps.KindSelectLabel, steps.KindSelectValue:
		probe := e.probeStep(ctx, step, "")
		if probe.Found && probe.Visible && probe.Enabled {
			return ""
		}
		if step.Optional {
			return fmt.Sprintf("optional target %s: %s", step.Target, probe.Reason)
		}
		return probe.Reason
	}
	return ""
}

// performInteraction executes one interactive primitive under the given
// deadline, returning the action string only on success.
func (e *Engine) performInteraction(ctx context.Context, step steps.Step, selectorOverride string, timeout time.Duration) (interactionResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Kind {
	case steps.KindOpenURL:
		return e.doNavigate(opCtx, step.Target)
	case steps.KindClickText, steps.KindClickSelector:
		return e.doClick(opCtx, step, selectorOverride)
	case steps.KindFillSelector:
		return e.doFill(opCtx, step)
	case steps.KindSelectLabel, steps.KindSelectValue:
		return e.doSelect(opCtx, step)
	case steps.KindBulkClickCards:
		return e.doBulkCards(opCtx, step)
	case steps.KindBulkClickEmpty:
		return e.doBulkUntilEmpty(opCtx, step)
	}
	return interactionResult{}, fmt.Errorf("unsupported interactive step kind: %s", step.Kind)
}

func (e *Engine) doNavigate(ctx context.Context, url string) (interactionResult, error) {
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return interactionResult{}, wrapStepError(err)
	}
	return interactionResult{
		Action:      "cmd: playwright open " + url,
		Observation: "navigated to " + url,
	}, nil
}

func (e *Engine) doClick(ctx context.Context, step steps.Step, selectorOverride string) (interactionResult, error) {
	probe := e.probeStep(ctx, step, selectorOverride)
	if !probe.Found || !probe.Visible || !probe.Enabled {
		return interactionResult{}, fmt.Errorf("%w: %s (%s)", ErrTargetNotFound, step.Target, probe.Reason)
	}

	selector := probe.Selector
	if selectorOverride != "" {
		selector = selectorOverride
	}

	if e.opts.Visual && e.opts.HumanMouse && e.mouse != nil {
		if err := e.mouse.MoveTo(ctx, point{X: probe.X, Y: probe.Y}); err != nil {
			return interactionResult{}, wrapStepError(err)
		}
		if err := e.mouse.Click(ctx); err != nil {
			return interactionResult{}, wrapStepError(err)
		}
	} else if selector != "" {
		var failure string
		if err := chromedp.Run(ctx, chromedp.Evaluate(jsClickJS+"("+jsString(selector)+")", &failure)); err != nil {
			return interactionResult{}, wrapStepError(err)
		}
		if failure != "" {
			return interactionResult{}, fmt.Errorf("%w: %s (%s)", ErrTargetNotFound, step.Target, failure)
		}
	} else {
		return interactionResult{}, fmt.Errorf("%w: %s (no selector resolved)", ErrTargetNotFound, step.Target)
	}

	action := "cmd: playwright click selector:" + selector
	if step.Kind == steps.KindClickText && selectorOverride == "" {
		action = "cmd: playwright click text:" + step.Target
	}
	return interactionResult{
		Action:       action,
		SelectorUsed: selector,
		Observation:  fmt.Sprintf("clicked %s", firstNonEmptyString(step.Target, selector)),
	}, nil
}

func (e *Engine) doFill(ctx context.Context, step steps.Step) (interactionResult, error) {
	var failure string
	js := fillJS + "(" + jsString(step.Target) + "," + jsString(step.Value) + ")"
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &failure)); err != nil {
		return interactionResult{}, wrapStepError(err)
	}
	if failure != "" {
		return interactionResult{}, fmt.Errorf("%w: %s (%s)", ErrTargetNotFound, step.Target, failure)
	}
	return interactionResult{
		Action:       fmt.Sprintf("cmd: playwright fill selector:%s value:%s", step.Target, step.Value),
		SelectorUsed: step.Target,
		Observation:  fmt.Sprintf("filled %s", step.Target),
	}, nil
}

func (e *Engine) doSelect(ctx context.Context, step steps.Step) (interactionResult, error) {
	preferLabel := step.Kind == steps.KindSelectLabel
	var failure string
	js := fmt.Sprintf("%s(%s,%s,%t)", selectJS, jsString(step.Target), jsString(step.Value), preferLabel)
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &failure)); err != nil {
		return interactionResult{}, wrapStepError(err)
	}
	if failure != "" {
		return interactionResult{}, fmt.Errorf("%w: %s (%s)", ErrTargetNotFound, step.Target, failure)
	}
	return interactionResult{
		Action:       fmt.Sprintf("cmd: playwright select selector:%s option:%s", step.Target, step.Value),
		SelectorUsed: step.Target,
		Observation:  fmt.Sprintf("selected %q in %s", step.Value, step.Target),
	}, nil
}

func (e *Engine) doBulkCards(ctx context.Context, step steps.Step) (interactionResult, error) {
	card, text := step.BulkCardScope()
	var clicked int
	js := fmt.Sprintf("%s(%s,%s,%s)", bulkCardsJS, jsString(step.Target), jsString(card), jsString(text))
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return interactionResult{}, wrapStepError(err)
	}
	if clicked == 0 {
		return interactionResult{}, fmt.Errorf("%w: no cards matched %q with text %q", ErrTargetNotFound, card, text)
	}
	return interactionResult{
		Action:       fmt.Sprintf("cmd: playwright bulk-click selector:%s cards:%s", step.Target, card),
		SelectorUsed: step.Target,
		Observation:  fmt.Sprintf("bulk click in cards: clicked=%d, selector=%s", clicked, step.Target),
	}, nil
}

func (e *Engine) doBulkUntilEmpty(ctx context.Context, step steps.Step) (interactionResult, error) {
	var clicked int
	js := bulkUntilEmptyJS + "(" + jsString(step.Target) + ")"
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return interactionResult{}, wrapStepError(err)
	}
	return interactionResult{
		Action:       "cmd: playwright bulk-click-until-empty selector:" + step.Target,
		SelectorUsed: step.Target,
		Observation:  fmt.Sprintf("bulk click until empty: clicked=%d, selector=%s", clicked, step.Target),
	}, nil
}

// performWait runs the wait/verify predicates under the wait deadline.
func (e *Engine) performWait(ctx context.Context, step steps.Step, timeout time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Kind {
	case steps.KindWaitSelector:
		if err := chromedp.Run(opCtx, chromedp.WaitVisible(step.Target, chromedp.ByQuery)); err != nil {
			return wrapStepError(err)
		}
		return nil
	case steps.KindWaitText, steps.KindVerifyVisible:
		target := step.Target
		if step.Kind == steps.KindVerifyVisible && target == "" {
			// Bare verify: the page must have a rendered body.
			return chromedp.Run(opCtx, chromedp.WaitReady("body", chromedp.ByQuery))
		}
		for {
			var visible bool
			js := textVisibleJS + "(" + jsString(target) + ")"
			if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &visible)); err != nil {
				return wrapStepError(err)
			}
			if visible {
				return nil
			}
			select {
			case <-opCtx.Done():
				return fmt.Errorf("%w: text %q", ErrStepTimeout, target)
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("unsupported wait step kind: %s", step.Kind)
}

// replayScrollHints applies learned scroll positions before a retry,
// container first, page as fallback.
func (e *Engine) replayScrollHints(ctx context.Context, hints []string) {
	for _, hint := range hints {
		selector, y := parseScrollHint(hint)
		var ignored bool
		js := fmt.Sprintf("%s(%s,%d)", scrollHintJS, jsString(selector), y)
		_ = chromedp.Run(ctx, chromedp.Evaluate(js, &ignored))
	}
}

// parseScrollHint decodes "selector@y" or a bare y offset.
func parseScrollHint(hint string) (string, int) {
	parts := strings.SplitN(hint, "@", 2)
	if len(parts) == 2 {
		return parts[0], atoiSafe(parts[1])
	}
	return "", atoiSafe(hint)
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func wrapStepError(err error) error {
	if isTimeoutError(err) {
		return fmt.Errorf("%w: %v", ErrStepTimeout, err)
	}
	if isPageClosedError(err) {
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	}
	return err
}

// jsString renders a Go string as a safe JS string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
