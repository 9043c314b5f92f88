// File: internal/meeting/driver.go
package meeting

import (
	"context"
	"time"
)

// By selects the query language for a Selector.
type By int

const (
	// ByCSS queries with a CSS selector.
	ByCSS By = iota
	// ByXPath queries with an XPath expression. Text-content rules compile
	// to XPath as well.
	ByXPath
)

// Selector identifies elements on the rendered page.
type Selector struct {
	By    By
	Query string
}

// CSS builds a CSS selector.
func CSS(query string) Selector { return Selector{By: ByCSS, Query: query} }

// XPath builds an XPath selector.
func XPath(query string) Selector { return Selector{By: ByXPath, Query: query} }

// ChatCapture is one rendered chat entry as scraped from the page: its text,
// a structural fingerprint of the containing element, and when it was seen.
type ChatCapture struct {
	Text        string
	Fingerprint string
	CapturedAt  time.Time
}

// Driver is the set of page primitives the session needs from an automated
// browser. Every call blocks up to its context deadline; deadline expiry is
// reported as an error and treated by the chains as attempt failure.
//
// Implementations are not required to be safe for concurrent use; the
// session serializes all calls through its worker.
type Driver interface {
	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until an element matching sel is visible.
	WaitVisible(ctx context.Context, sel Selector) error
	// Click activates the first element matching sel.
	Click(ctx context.Context, sel Selector) error
	// Focus gives keyboard focus to the first element matching sel.
	Focus(ctx context.Context, sel Selector) error
	// ScriptClick activates the element via scripted dispatch rather than a
	// synthesized input event.
	ScriptClick(ctx context.Context, sel Selector) error
	// Clear empties the value of an input-like element.
	Clear(ctx context.Context, sel Selector) error
	// Type sends the text to the element as key input.
	Type(ctx context.Context, sel Selector, text string) error
	// PressEnter sends the submit key equivalent to the element.
	PressEnter(ctx context.Context, sel Selector) error
	// Text returns the trimmed text content of the first matching element.
	Text(ctx context.Context, sel Selector) (string, error)
	// CollectText returns one capture per element matching sel.
	CollectText(ctx context.Context, sel Selector) ([]ChatCapture, error)
	// ScopeFrame narrows every later query to the document inside the
	// first element matching sel, for clients that render the meeting in
	// an iframe. Navigate resets the scope.
	ScopeFrame(ctx context.Context, sel Selector) error
	// ScopeTop restores queries to the top document.
	ScopeTop()
}
