// File: internal/browser/driver.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/truelylabs/truely-cli/internal/meeting"
)

// Driver implements meeting.Driver over a chromedp browser context. Each
// call combines the caller's context with the browser's lifetime, so a
// released browser fails every pending operation promptly. An optional
// frame scope narrows queries into an iframe's content document; script
// evaluations resolve the same scope on the page side.
type Driver struct {
	ctx    context.Context
	logger *zap.Logger

	mu       sync.Mutex
	frame    *cdp.Node
	frameSel *meeting.Selector
}

// NewDriver wraps the handle's browser context.
func NewDriver(h *Handle, logger *zap.Logger) *Driver {
	return &Driver{ctx: h.Ctx(), logger: logger.Named("driver")}
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func queryOpt(sel meeting.Selector) chromedp.QueryOption {
	if sel.By == meeting.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// opts assembles query options for sel, rooting the query at the scoped
// frame when one is set.
func (d *Driver) opts(sel meeting.Selector) []chromedp.QueryOption {
	o := []chromedp.QueryOption{queryOpt(sel)}
	if frame, _ := d.scope(); frame != nil {
		o = append(o, chromedp.FromNode(frame))
	}
	return o
}

func (d *Driver) scope() (*cdp.Node, *meeting.Selector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame, d.frameSel
}

// ScopeFrame roots subsequent queries at the content document of the first
// element matching sel. Stale after navigation; Navigate clears it.
func (d *Driver) ScopeFrame(ctx context.Context, sel meeting.Selector) error {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(sel.Query, &nodes, queryOpt(sel))); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("browser: frame %q: %w", sel.Query, meeting.ErrNotFound)
	}
	node := nodes[0]
	if node.ContentDocument != nil {
		node = node.ContentDocument
	}
	d.mu.Lock()
	d.frame = node
	d.frameSel = &sel
	d.mu.Unlock()
	return nil
}

// ScopeTop restores queries to the top document.
func (d *Driver) ScopeTop() {
	d.mu.Lock()
	d.frame = nil
	d.frameSel = nil
	d.mu.Unlock()
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.ScopeTop()
	return d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *Driver) WaitVisible(ctx context.Context, sel meeting.Selector) error {
	return d.run(ctx, chromedp.WaitVisible(sel.Query, d.opts(sel)...))
}

func (d *Driver) Click(ctx context.Context, sel meeting.Selector) error {
	return d.run(ctx, chromedp.Click(sel.Query, d.opts(sel)...))
}

func (d *Driver) Focus(ctx context.Context, sel meeting.Selector) error {
	return d.run(ctx, chromedp.Focus(sel.Query, d.opts(sel)...))
}

// ScriptClick dispatches the click from page script, bypassing input event
// synthesis that overlays sometimes intercept.
func (d *Driver) ScriptClick(ctx context.Context, sel meeting.Selector) error {
	_, frameSel := d.scope()
	var clicked bool
	if err := d.run(ctx, chromedp.Evaluate(scriptClickJS(sel, frameSel), &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("browser: script click matched nothing for %q", sel.Query)
	}
	return nil
}

func (d *Driver) Clear(ctx context.Context, sel meeting.Selector) error {
	return d.run(ctx, chromedp.Clear(sel.Query, d.opts(sel)...))
}

func (d *Driver) Type(ctx context.Context, sel meeting.Selector, text string) error {
	return d.run(ctx, chromedp.SendKeys(sel.Query, text, d.opts(sel)...))
}

func (d *Driver) PressEnter(ctx context.Context, sel meeting.Selector) error {
	return d.run(ctx, chromedp.SendKeys(sel.Query, kb.Enter, d.opts(sel)...))
}

func (d *Driver) Text(ctx context.Context, sel meeting.Selector) (string, error) {
	var out string
	if err := d.run(ctx, chromedp.Text(sel.Query, &out, d.opts(sel)...)); err != nil {
		return "", err
	}
	return out, nil
}

type rawCapture struct {
	Text        string `json:"text"`
	Fingerprint string `json:"fp"`
}

// CollectText scrapes every element matching sel in one script evaluation.
// The fingerprint is built from the element's tag, id, classes, and position
// so identical texts in different bubbles stay distinguishable.
func (d *Driver) CollectText(ctx context.Context, sel meeting.Selector) ([]meeting.ChatCapture, error) {
	_, frameSel := d.scope()
	var raw []rawCapture
	if err := d.run(ctx, chromedp.Evaluate(collectJS(sel, frameSel), &raw)); err != nil {
		return nil, err
	}
	now := time.Now()
	caps := make([]meeting.ChatCapture, 0, len(raw))
	for _, r := range raw {
		if r.Text == "" {
			continue
		}
		caps = append(caps, meeting.ChatCapture{
			Text:        r.Text,
			Fingerprint: r.Fingerprint,
			CapturedAt:  now,
		})
	}
	return caps, nil
}

// frameDocJS emits a `doc` binding for page scripts: the scoped iframe's
// content document when one is set and reachable, the top document
// otherwise. Cross-origin frames yield a null contentDocument and fall
// back to the top document.
func frameDocJS(frame *meeting.Selector) string {
	if frame == nil {
		return `const doc = document;`
	}
	if frame.By == meeting.ByXPath {
		return fmt.Sprintf(
			`const fr = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			const doc = (fr && fr.contentDocument) || document;`, frame.Query)
	}
	return fmt.Sprintf(
		`const fr = document.querySelector(%q);
		const doc = (fr && fr.contentDocument) || document;`, frame.Query)
}

func scriptClickJS(sel meeting.Selector, frame *meeting.Selector) string {
	if sel.By == meeting.ByXPath {
		return fmt.Sprintf(`(() => {
			%s
			const r = doc.evaluate(%q, doc, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
			if (!r.singleNodeValue) return false;
			r.singleNodeValue.click();
			return true;
		})()`, frameDocJS(frame), sel.Query)
	}
	return fmt.Sprintf(`(() => {
		%s
		const el = doc.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, frameDocJS(frame), sel.Query)
}

func collectJS(sel meeting.Selector, frame *meeting.Selector) string {
	const mapper = `els.map((el, i) => ({
		text: (el.innerText || el.textContent || '').trim(),
		fp: el.tagName + '#' + (el.id || '') + '.' + (typeof el.className === 'string' ? el.className : '') + ':' + i,
	}))`
	if sel.By == meeting.ByXPath {
		return fmt.Sprintf(`(() => {
			%s
			const snap = doc.evaluate(%q, doc, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
			const els = [];
			for (let i = 0; i < snap.snapshotLength; i++) els.push(snap.snapshotItem(i));
			return %s;
		})()`, frameDocJS(frame), sel.Query, mapper)
	}
	return fmt.Sprintf(`(() => {
		%s
		const els = Array.from(doc.querySelectorAll(%q));
		return %s;
	})()`, frameDocJS(frame), sel.Query, mapper)
}

// CombineContext derives a context cancelled as soon as either input is.
// chromedp operations must run on the browser context, so the caller's
// deadline is grafted onto it here.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
