// File: internal/web/frameguard.go
// Description: Main-frame-first discipline. Embedded iframes (YouTube players
// in particular) steal focus and swallow keyboard/mouse input; before any
// interaction or wait the engine forces focus back to the top document.
package web

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const iframeFocusLockedJS = `
(() => {
  const active = document.activeElement;
  if (!active) return false;
  if (String(active.tagName || '').toUpperCase() === 'IFRAME') return true;
  return !!document.querySelector('iframe:focus,iframe:focus-within');
})()`

const blurActiveIframeJS = `
(() => {
  const active = document.activeElement;
  if (active && String(active.tagName || '').toUpperCase() === 'IFRAME') {
    try { active.blur(); } catch (_e) {}
  }
  return true;
})()`

const focusMainDocumentJS = `
(() => {
  if (!document.body) return false;
  if (typeof document.body.focus === 'function') document.body.focus();
  try {
    const evt = new MouseEvent('click', { bubbles: true, cancelable: true, view: window });
    document.body.dispatchEvent(evt);
  } catch (_e) {}
  return true;
})()`

const isMainFrameJS = `(() => !!document.body && window === window.top)()`

// disableYoutubeIframeJS neutralizes pointer events on the focus-holding
// YouTube iframe and returns a restoration token.
const disableYoutubeIframeJS = `
(() => {
  const active = document.activeElement;
  let frame = null;
  if (active && String(active.tagName || '').toUpperCase() === 'IFRAME') frame = active;
  if (!frame) frame = document.querySelector('iframe:focus,iframe:focus-within');
  if (!frame) return null;
  const src = String(frame.getAttribute('src') || '').toLowerCase();
  const isYoutube = src.includes('youtube.com') || src.includes('youtube-nocookie.com') || src.includes('youtu.be');
  if (!isYoutube) return null;
  const prev = String(frame.style.pointerEvents || '');
  frame.setAttribute('data-bridge-prev-pe', prev || '__EMPTY__');
  frame.style.pointerEvents = 'none';
  const all = Array.from(document.querySelectorAll('iframe'));
  return { idx: all.indexOf(frame), id: String(frame.id || ''), prev: prev };
})()`

// restoreIframeJS undoes disableYoutubeIframeJS given its token.
const restoreIframeJS = `
((tok) => {
  if (!tok || typeof tok !== 'object') return false;
  const all = Array.from(document.querySelectorAll('iframe'));
  let frame = null;
  if (tok.id) frame = document.getElementById(String(tok.id));
  if (!frame && Number.isInteger(tok.idx) && tok.idx >= 0 && tok.idx < all.length) frame = all[tok.idx];
  if (!frame) return false;
  const prevAttr = frame.getAttribute('data-bridge-prev-pe');
  const prev = prevAttr === '__EMPTY__' ? '' : String(prevAttr || tok.prev || '');
  frame.style.pointerEvents = prev;
  frame.removeAttribute('data-bridge-prev-pe');
  return true;
})`

// iframeToken is the restoration handle for a pointer-events override.
type iframeToken struct {
	Idx  int    `json:"idx"`
	ID   string `json:"id"`
	Prev string `json:"prev"`
}

// iframeFocusLocked reports whether an iframe currently holds focus.
func (e *Engine) iframeFocusLocked(ctx context.Context) bool {
	var locked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(iframeFocusLockedJS, &locked)); err != nil {
		return false
	}
	return locked
}

// forceMainFrameContext escapes iframe focus: blur, Escape, synthetic focus
// on the main document, repeated until the deadline.
func (e *Engine) forceMainFrameContext(ctx context.Context, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxDuration(100*time.Millisecond, maxWait))
	for time.Now().Before(deadline) {
		var ignored any
		_ = chromedp.Run(ctx, chromedp.Evaluate(blurActiveIframeJS, &ignored))
		_ = chromedp.Run(ctx, chromedp.KeyEvent(kb.Escape))
		_ = chromedp.Run(ctx, chromedp.Evaluate(focusMainDocumentJS, &ignored))

		var isMain bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(isMainFrameJS, &isMain)); err == nil {
			if isMain && !e.iframeFocusLocked(ctx) {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(120 * time.Millisecond):
		}
	}
	return false
}

// disableActiveYoutubeIframe suppresses pointer events on the offending
// iframe; nil token means there was nothing to disable.
func (e *Engine) disableActiveYoutubeIframe(ctx context.Context) *iframeToken {
	var token *iframeToken
	if err := chromedp.Run(ctx, chromedp.Evaluate(disableYoutubeIframeJS, &token)); err != nil {
		return nil
	}
	return token
}

// restoreIframePointerEvents reverts a disable token; best effort.
func (e *Engine) restoreIframePointerEvents(ctx context.Context, token *iframeToken) {
	if token == nil {
		return
	}
	data, err := json.Marshal(token)
	if err != nil {
		return
	}
	var ignored bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(restoreIframeJS+"("+string(data)+")", &ignored))
}
