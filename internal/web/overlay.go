// File: internal/web/overlay.go
// Description: In-page UI injected by the engine. The top bar's buttons talk
// to the session's control agent over loopback HTTP, so they keep working
// after the run that installed them exits. Everything injected is namespaced
// __bridge_ and ignored by the manual-click observer.
package web

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// overlayZ is the z-index band reserved for injected chrome.
const overlayZ = "2147483645"

// topBarJS installs the top bar once per document. The bar slides in, hides
// into a hot area at the top edge, and polls the control agent for its
// state-coloured border and label. Buttons post refresh/release/close/ack.
const topBarJS = `
(controlUrl) => {
  if (window.__bridgeTopBarInstalled) return 'already';
  window.__bridgeTopBarInstalled = true;

  const COLORS = {
    red: '#ef4444', orange: '#f59e0b', blue: '#3BA7FF',
    green: '#22c55e', gray: '#6b7280'
  };

  const border = document.createElement('div');
  border.id = '__bridge_control_border';
  border.style.cssText = 'position:fixed;inset:0;border:3px solid ' + COLORS.gray +
    ';box-sizing:border-box;pointer-events:none;z-index:` + overlayZ + `;';
  document.documentElement.appendChild(border);

  const bar = document.createElement('div');
  bar.id = '__bridge_top_bar';
  bar.style.cssText =
    'position:fixed;top:-44px;left:50%;transform:translateX(-50%);height:36px;' +
    'display:flex;align-items:center;gap:10px;padding:0 14px;border-radius:0 0 12px 12px;' +
    'background:rgba(17,24,39,0.92);color:#fff;font:12px/1.2 monospace;' +
    'box-shadow:0 6px 16px rgba(0,0,0,0.35);z-index:2147483646;transition:top 220ms ease;';

  const label = document.createElement('span');
  label.id = '__bridge_top_bar_label';
  label.textContent = 'BRIDGE';
  bar.appendChild(label);

  const mkBtn = (text, action) => {
    const b = document.createElement('button');
    b.textContent = text;
    b.dataset.bridgeAction = action;
    b.style.cssText = 'border:0;border-radius:6px;padding:4px 8px;font:11px monospace;' +
      'cursor:pointer;background:#374151;color:#fff;';
    b.addEventListener('click', (ev) => {
      ev.stopPropagation();
      fetch(controlUrl + '/action', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({action})
      }).then(() => poll()).catch(() => {});
    });
    return b;
  };
  bar.appendChild(mkBtn('Refresh', 'refresh'));
  bar.appendChild(mkBtn('Release', 'release'));
  bar.appendChild(mkBtn('Close', 'close'));
  const ackBtn = mkBtn('Clear incident', 'ack');
  ackBtn.style.display = 'none';
  ackBtn.id = '__bridge_ack_btn';
  bar.appendChild(ackBtn);
  document.documentElement.appendChild(bar);

  // Hot area: the bar hides after entry and reappears near the top edge.
  const hot = document.createElement('div');
  hot.id = '__bridge_top_bar_hot';
  hot.style.cssText = 'position:fixed;top:0;left:0;right:0;height:14px;z-index:2147483646;';
  hot.addEventListener('mouseenter', () => { bar.style.top = '0px'; });
  bar.addEventListener('mouseleave', () => { bar.style.top = '-30px'; });
  document.documentElement.appendChild(hot);

  // Animated entry, then tuck away leaving a sliver visible.
  requestAnimationFrame(() => { bar.style.top = '0px'; });
  setTimeout(() => { bar.style.top = '-30px'; }, 2600);

  const apply = (state) => {
    const control = (state && state.control) || {};
    const color = COLORS[control.color] || COLORS.gray;
    border.style.borderColor = color;
    label.textContent = (control.label || 'BRIDGE') +
      (state && state.title ? ' · ' + String(state.title).slice(0, 48) : '');
    ackBtn.style.display = state && state.incident_open ? '' : 'none';
  };
  window.__bridgeUpdateTopBarState = apply;

  const poll = () => {
    fetch(controlUrl + '/state').then(r => r.json()).then(apply).catch(() => {
      border.style.borderColor = COLORS.gray;
    });
  };
  const timer = setInterval(poll, 1500);
  poll();

  window.__bridgeDestroyTopBar = () => {
    clearInterval(timer);
    for (const id of ['__bridge_top_bar', '__bridge_control_border', '__bridge_top_bar_hot']) {
      const el = document.getElementById(id);
      if (el) el.remove();
    }
    delete window.__bridgeTopBarInstalled;
    delete window.__bridgeUpdateTopBarState;
    delete window.__bridgeDestroyTopBar;
  };
  return 'installed';
}`

// observerJS reports manual clicks and scrolls to the control agent. Clicks
// on injected chrome are ignored; a short CSS path plus visible text travel
// with each event so the teaching pipeline can learn from them.
const observerJS = `
(controlUrl) => {
  if (window.__bridgeObserverInstalled) return 'already';
  window.__bridgeObserverInstalled = true;

  const cssPath = (el) => {
    if (!(el instanceof Element)) return '';
    const parts = [];
    while (el && el.nodeType === Node.ELEMENT_NODE && parts.length < 5) {
      let part = el.tagName.toLowerCase();
      if (el.id) { parts.unshift(part + '#' + el.id); break; }
      const cls = String(el.className || '').trim().split(/\s+/).filter(Boolean).slice(0, 2);
      if (cls.length) part += '.' + cls.join('.');
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

  const post = (payload) => {
    try {
      fetch(controlUrl + '/event', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify(payload)
      }).catch(() => {});
    } catch (_e) {}
  };

  document.addEventListener('click', (ev) => {
    const target = ev.target;
    const selector = cssPath(target);
    if (selector.includes('__bridge_')) return;
    if (!ev.isTrusted) return;
    post({
      type: 'manual_click',
      selector,
      target: String(target && target.tagName || '').toLowerCase(),
      text: String(target && (target.innerText || target.value) || '').trim().slice(0, 120),
      url: location.href,
      x: ev.clientX, y: ev.clientY
    });
  }, true);

  let scrollTimer = null;
  document.addEventListener('scroll', (ev) => {
    if (scrollTimer) return;
    scrollTimer = setTimeout(() => {
      scrollTimer = null;
      const el = ev.target === document ? document.scrollingElement : ev.target;
      post({
        type: 'scroll',
        selector: el && el !== document.scrollingElement ? cssPath(el) : '',
        scroll_y: (el && el.scrollTop) || window.scrollY || 0,
        url: location.href
      });
    }, 350);
  }, true);

  return 'installed';
}`

// cursorJS installs the visual cursor dot and click pulse used in visual mode.
const cursorJS = `
() => {
  if (window.__bridgeCursorInstalled) return 'already';
  window.__bridgeCursorInstalled = true;

  const dot = document.createElement('div');
  dot.id = '__bridge_cursor';
  dot.style.cssText = 'position:fixed;width:14px;height:14px;border-radius:50%;' +
    'background:rgba(59,167,255,0.9);border:2px solid #fff;pointer-events:none;' +
    'z-index:2147483647;transform:translate(-50%,-50%);left:-40px;top:-40px;' +
    'box-shadow:0 2px 6px rgba(0,0,0,0.4);transition:left 16ms linear, top 16ms linear;';
  document.documentElement.appendChild(dot);

  window.__bridgeMoveCursor = (x, y) => {
    dot.style.left = x + 'px';
    dot.style.top = y + 'px';
  };
  window.__bridgeClickPulse = (x, y) => {
    const pulse = document.createElement('div');
    pulse.style.cssText = 'position:fixed;width:10px;height:10px;border-radius:50%;' +
      'border:2px solid rgba(59,167,255,0.9);pointer-events:none;z-index:2147483647;' +
      'transform:translate(-50%,-50%);transition:all 450ms ease-out;' +
      'left:' + x + 'px;top:' + y + 'px;';
    document.documentElement.appendChild(pulse);
    requestAnimationFrame(() => {
      pulse.style.width = '44px';
      pulse.style.height = '44px';
      pulse.style.opacity = '0';
    });
    setTimeout(() => pulse.remove(), 500);
  };
  return 'installed';
}`

// noticeJS shows or updates the bottom-center handoff notice.
const noticeJS = `
(message, background) => {
  const id = '__bridge_teaching_handoff_notice';
  let el = document.getElementById(id);
  if (!el) {
    el = document.createElement('div');
    el.id = id;
    el.style.cssText = 'position:fixed;left:50%;bottom:18px;transform:translateX(-50%);' +
      'padding:10px 14px;border-radius:10px;color:#fff;font:13px/1.3 monospace;' +
      'z-index:2147483647;box-shadow:0 8px 18px rgba(0,0,0,0.3);';
    document.documentElement.appendChild(el);
  }
  el.style.background = background;
  el.textContent = String(message || '');
  return true;
}`

// screenSignatureJS joins heading and landmark text into the state
// signature; learn.ContextKey hashes it into the learning store key.
const screenSignatureJS = `
() => {
  const parts = [];
  for (const el of document.querySelectorAll('h1,h2,[role=main],[role=navigation],main,nav')) {
    const text = String(el.tagName || '') + ':' + String(el.innerText || '').trim().slice(0, 60);
    parts.push(text);
    if (parts.length >= 8) break;
  }
  return parts.join('|');
}`

// installTopBar injects the top bar bound to the session's control URL.
func (e *Engine) installTopBar(ctx context.Context) error {
	var result string
	js := fmt.Sprintf("(%s)(%q)", topBarJS, e.session.ControlURL())
	return chromedp.Run(ctx, chromedp.Evaluate(js, &result))
}

// installObserver injects the manual click/scroll reporter.
func (e *Engine) installObserver(ctx context.Context) error {
	var result string
	js := fmt.Sprintf("(%s)(%q)", observerJS, e.session.ControlURL())
	return chromedp.Run(ctx, chromedp.Evaluate(js, &result))
}

// installCursor injects the visual cursor runtime.
func (e *Engine) installCursor(ctx context.Context) error {
	var result string
	js := fmt.Sprintf("(%s)()", cursorJS)
	return chromedp.Run(ctx, chromedp.Evaluate(js, &result))
}

// showNotice renders the handoff notice; failures are not fatal.
func (e *Engine) showNotice(ctx context.Context, message, background string) {
	var ok bool
	js := fmt.Sprintf("(%s)(%q, %q)", noticeJS, message, background)
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		e.logger.Debug("Failed to show notice.", zapError(err))
	}
}

// destroyTopBar tears down injected chrome when a session closes.
func (e *Engine) destroyTopBar(ctx context.Context) {
	var ignored any
	_ = chromedp.Run(ctx, chromedp.Evaluate("window.__bridgeDestroyTopBar && window.__bridgeDestroyTopBar()", &ignored))
}

// screenSignature samples the DOM identity for learning context keys.
func (e *Engine) screenSignature(ctx context.Context) string {
	var signature string
	js := fmt.Sprintf("(%s)()", screenSignatureJS)
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &signature)); err != nil {
		return ""
	}
	return signature
}
