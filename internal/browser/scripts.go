package browser

import "encoding/json"

// Scripts run in the page through Runtime.evaluate. Each is an IIFE taking
// JSON-encoded arguments so selectors never need escaping by hand.

// tagItemsScript labels every item with a generation-scoped attribute so that
// later lookups survive DOM reordering caused by earlier clicks.
const tagItemsScript = `((sel, token, attr) => {
  const items = document.querySelectorAll(sel);
  items.forEach((el, i) => el.setAttribute(attr, token + '-' + i));
  return items.length;
})(%s, %s, %s)`

const countScript = `((sel) => document.querySelectorAll(sel).length)(%s)`

// controlStateScript resolves a control (optionally scoped to a tagged item)
// and reports presence, visibility and enabled state. Visibility requires a
// layout box and no ancestor with display:none, visibility:hidden or zero
// opacity.
const controlStateScript = `((itemSel, sel, doneClass) => {
  const root = itemSel ? document.querySelector(itemSel) : document;
  if (!root) return {present: false, visible: false, enabled: false, stale: true};
  const el = root.querySelector(sel);
  if (!el) return {present: false, visible: false, enabled: false, stale: false};
  let visible = el.getClientRects().length > 0;
  for (let n = el; visible && n && n.nodeType === 1; n = n.parentElement) {
    const cs = window.getComputedStyle(n);
    if (cs.display === 'none' || cs.visibility === 'hidden' || cs.visibility === 'collapse' || parseFloat(cs.opacity) === 0) {
      visible = false;
    }
  }
  const enabled = !el.disabled &&
    el.getAttribute('aria-disabled') !== 'true' &&
    !el.classList.contains('disabled') &&
    !(doneClass && el.classList.contains(doneClass));
  return {present: true, visible: visible, enabled: enabled, stale: false};
})(%s, %s, %s)`

const activateScript = `((itemSel, sel) => {
  const root = itemSel ? document.querySelector(itemSel) : document;
  const el = root ? root.querySelector(sel) : null;
  if (!el) return false;
  el.scrollIntoView({block: 'center', inline: 'nearest'});
  el.click();
  return true;
})(%s, %s)`

type controlStateResult struct {
	Present bool `json:"present"`
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
	Stale   bool `json:"stale"`
}

func jsonArg(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
