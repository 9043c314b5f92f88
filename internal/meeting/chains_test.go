// File: internal/meeting/chains_test.go
package meeting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testChains(t *testing.T) Chains {
	t.Helper()
	return Chains{
		PerAttempt: 30 * time.Millisecond,
		Pause:      time.Millisecond,
		Logger:     zaptest.NewLogger(t),
	}
}

func TestLocateReturnsFirstMatch(t *testing.T) {
	drv := newFakeDriver()
	drv.show("#second", "#third")
	chain := LocatorChain{
		{Name: "first", Sel: CSS("#first")},
		{Name: "second", Sel: CSS("#second")},
		{Name: "third", Sel: CSS("#third")},
	}

	el, err := testChains(t).Locate(context.Background(), drv, chain)
	require.NoError(t, err)
	assert.Equal(t, "second", el.Spec.Name)
	// Later specs must never be probed once one matches.
	assert.Equal(t, 0, drv.callCount("wait", "#third"))
}

func TestLocateStopsProbingAfterFirstSuccess(t *testing.T) {
	drv := newFakeDriver()
	drv.show("#first")
	chain := LocatorChain{
		{Name: "first", Sel: CSS("#first")},
		{Name: "second", Sel: CSS("#second")},
	}

	el, err := testChains(t).Locate(context.Background(), drv, chain)
	require.NoError(t, err)
	assert.Equal(t, "first", el.Spec.Name)
	assert.Equal(t, 1, drv.callCount("wait", "#first"))
	assert.Equal(t, 0, drv.callCount("wait", "#second"))
}

func TestLocateExhaustedReturnsErrNotFound(t *testing.T) {
	drv := newFakeDriver()
	chain := LocatorChain{
		{Name: "a", Sel: CSS("#a")},
		{Name: "b", Sel: XPath("//b")},
	}

	_, err := testChains(t).Locate(context.Background(), drv, chain)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, drv.callCount("wait", "#a"))
	assert.Equal(t, 1, drv.callCount("wait", "//b"))
}

func TestLocateHonorsCancellation(t *testing.T) {
	drv := newFakeDriver()
	chain := LocatorChain{{Name: "a", Sel: CSS("#a")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testChains(t).Locate(ctx, drv, chain)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestInteractStopsAtFirstSuccess(t *testing.T) {
	drv := newFakeDriver()
	el := &Element{Spec: LocatorSpec{Name: "btn", Sel: CSS("#btn")}}

	err := testChains(t).Interact(context.Background(), drv, DefaultInteractions(), el)
	require.NoError(t, err)
	// The plain click is first and succeeds; nothing else runs.
	assert.Equal(t, 1, drv.callCount("click", "#btn"))
	assert.Equal(t, 0, drv.callCount("focus", "#btn"))
	assert.Equal(t, 0, drv.callCount("scriptclick", "#btn"))
}

func TestInteractFallsThroughOnFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.failOn("click", "#btn", errors.New("intercepted"))
	drv.failOn("focus", "#btn", errors.New("intercepted"))
	el := &Element{Spec: LocatorSpec{Name: "btn", Sel: CSS("#btn")}}

	err := testChains(t).Interact(context.Background(), drv, DefaultInteractions(), el)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.callCount("scriptclick", "#btn"))
}

func TestInteractExhaustedReturnsErrExhausted(t *testing.T) {
	drv := newFakeDriver()
	boom := errors.New("blocked")
	for _, op := range []string{"click", "focus", "scriptclick"} {
		drv.failOn(op, "#btn", boom)
	}
	el := &Element{Spec: LocatorSpec{Name: "btn", Sel: CSS("#btn")}}

	err := testChains(t).Interact(context.Background(), drv, DefaultInteractions(), el)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRetryInteractionsLeadWithScriptedDispatch(t *testing.T) {
	drv := newFakeDriver()
	el := &Element{Spec: LocatorSpec{Name: "btn", Sel: CSS("#btn")}}

	err := testChains(t).Interact(context.Background(), drv, RetryInteractions(), el)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.callCount("scriptclick", "#btn"))
	assert.Equal(t, 0, drv.callCount("click", "#btn"))
}
