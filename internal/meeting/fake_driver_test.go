// File: internal/meeting/fake_driver_test.go
package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errNoElement = errors.New("no such element")

// fakeDriver scripts page behavior per selector query. Queries not present
// in visible fail WaitVisible; entries in failures fail the named call.
type fakeDriver struct {
	mu sync.Mutex

	visible  map[string]bool
	texts    map[string]string
	captures []ChatCapture
	frame    string

	// failures maps "op:query" to an error.
	failures map[string]error

	calls []string

	navigated []string
	typed     map[string][]string
	submitted []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		visible:  make(map[string]bool),
		texts:    make(map[string]string),
		failures: make(map[string]error),
		typed:    make(map[string][]string),
	}
}

func (f *fakeDriver) record(op, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + ":" + query
	f.calls = append(f.calls, key)
	if err, ok := f.failures[key]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) callCount(op, query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op+":"+query {
			n++
		}
	}
	return n
}

func (f *fakeDriver) show(queries ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range queries {
		f.visible[q] = true
	}
}

func (f *fakeDriver) failOn(op, query string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+":"+query] = err
}

func (f *fakeDriver) setCaptures(caps ...ChatCapture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = caps
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	f.mu.Unlock()
	return f.record("navigate", url)
}

func (f *fakeDriver) WaitVisible(ctx context.Context, sel Selector) error {
	if err := f.record("wait", sel.Query); err != nil {
		return err
	}
	f.mu.Lock()
	ok := f.visible[sel.Query]
	f.mu.Unlock()
	if !ok {
		// Real probes block until the deadline when absent.
		<-ctx.Done()
		return fmt.Errorf("%w: %s", errNoElement, sel.Query)
	}
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, sel Selector) error {
	return f.record("click", sel.Query)
}

func (f *fakeDriver) Focus(ctx context.Context, sel Selector) error {
	return f.record("focus", sel.Query)
}

func (f *fakeDriver) ScriptClick(ctx context.Context, sel Selector) error {
	return f.record("scriptclick", sel.Query)
}

func (f *fakeDriver) Clear(ctx context.Context, sel Selector) error {
	return f.record("clear", sel.Query)
}

func (f *fakeDriver) Type(ctx context.Context, sel Selector, text string) error {
	if err := f.record("type", sel.Query); err != nil {
		return err
	}
	f.mu.Lock()
	f.typed[sel.Query] = append(f.typed[sel.Query], text)
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) PressEnter(ctx context.Context, sel Selector) error {
	if err := f.record("enter", sel.Query); err != nil {
		return err
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, sel.Query)
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Text(ctx context.Context, sel Selector) (string, error) {
	if err := f.record("text", sel.Query); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[sel.Query], nil
}

func (f *fakeDriver) CollectText(ctx context.Context, sel Selector) ([]ChatCapture, error) {
	if err := f.record("collect", sel.Query); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatCapture(nil), f.captures...), nil
}

func (f *fakeDriver) ScopeFrame(ctx context.Context, sel Selector) error {
	if err := f.record("scopeframe", sel.Query); err != nil {
		return err
	}
	f.mu.Lock()
	f.frame = sel.Query
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) ScopeTop() {
	f.mu.Lock()
	f.frame = ""
	f.mu.Unlock()
	_ = f.record("scopetop", "")
}

func (f *fakeDriver) scopedFrame() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func capture(text, fp string) ChatCapture {
	return ChatCapture{Text: text, Fingerprint: fp, CapturedAt: time.Now()}
}
