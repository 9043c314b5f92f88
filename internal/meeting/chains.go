// File: internal/meeting/chains.go
package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Chains.Locate when every spec in a locator
	// chain failed.
	ErrNotFound = errors.New("meeting: no locator strategy matched")
	// ErrExhausted is returned by Chains.Interact when every attempt in an
	// interaction chain failed.
	ErrExhausted = errors.New("meeting: all interaction attempts failed")
)

// LocatorSpec is one way of finding a UI element.
type LocatorSpec struct {
	Name string
	Sel  Selector
}

// LocatorChain is an ordered list of locator specs, most reliable first.
// Order is part of the contract: later specs are only consulted after
// earlier ones fail.
type LocatorChain []LocatorSpec

// Element is a located UI element, remembered by the spec that found it.
type Element struct {
	Spec LocatorSpec
}

// InteractionAttempt is one activation tactic for a located element.
type InteractionAttempt struct {
	Name string
	Run  func(ctx context.Context, d Driver, sel Selector) error
}

// InteractionChain is an ordered list of activation tactics.
type InteractionChain []InteractionAttempt

// Chains runs locator and interaction chains with shared timing policy.
type Chains struct {
	// PerAttempt bounds each individual locator probe.
	PerAttempt time.Duration
	// Pause is the delay between consecutive attempts in a chain.
	Pause  time.Duration
	Logger *zap.Logger
}

// Locate tries each spec in order and returns the first that matches. A spec
// failure (absence or probe timeout) is expected, logged at low severity, and
// the chain moves on. ErrNotFound is returned only after the whole chain is
// exhausted; cancellation of ctx aborts immediately.
func (c Chains) Locate(ctx context.Context, d Driver, chain LocatorChain) (*Element, error) {
	log := c.logger()
	for i, spec := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, c.PerAttempt)
		err := d.WaitVisible(probeCtx, spec.Sel)
		cancel()
		if err == nil {
			log.Debug("Locator matched",
				zap.String("strategy", spec.Name),
				zap.Int("rank", i))
			return &Element{Spec: spec}, nil
		}
		log.Debug("Locator strategy missed",
			zap.String("strategy", spec.Name),
			zap.Int("rank", i),
			zap.Error(err))
		if i < len(chain)-1 {
			if err := sleepCtx(ctx, c.Pause); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w (%d strategies tried)", ErrNotFound, len(chain))
}

// Interact runs each attempt in order against the element's selector and
// stops at the first success. ErrExhausted is returned only after every
// attempt failed.
func (c Chains) Interact(ctx context.Context, d Driver, chain InteractionChain, el *Element) error {
	log := c.logger()
	for i, attempt := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt.Run(ctx, d, el.Spec.Sel)
		if err == nil {
			log.Debug("Interaction succeeded",
				zap.String("attempt", attempt.Name),
				zap.String("strategy", el.Spec.Name))
			return nil
		}
		log.Debug("Interaction attempt failed",
			zap.String("attempt", attempt.Name),
			zap.String("strategy", el.Spec.Name),
			zap.Error(err))
		if i < len(chain)-1 {
			if err := sleepCtx(ctx, c.Pause); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w (%d attempts)", ErrExhausted, len(chain))
}

func (c Chains) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// DefaultInteractions is the standard activation ordering: a plain click,
// then focus-then-click, then a scripted dispatch, then a rapid double
// activation for controls that swallow the first event.
func DefaultInteractions() InteractionChain {
	return InteractionChain{
		{Name: "click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			return d.Click(ctx, sel)
		}},
		{Name: "focus-click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			if err := d.Focus(ctx, sel); err != nil {
				return err
			}
			return d.Click(ctx, sel)
		}},
		{Name: "script-click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			return d.ScriptClick(ctx, sel)
		}},
		{Name: "double-click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			if err := d.Click(ctx, sel); err != nil {
				return err
			}
			if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			return d.Click(ctx, sel)
		}},
	}
}

// RetryInteractions is the alternate ordering used on a second pass, leading
// with scripted dispatch for overlays that intercept synthesized events.
func RetryInteractions() InteractionChain {
	return InteractionChain{
		{Name: "script-click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			return d.ScriptClick(ctx, sel)
		}},
		{Name: "focus-click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			if err := d.Focus(ctx, sel); err != nil {
				return err
			}
			return d.Click(ctx, sel)
		}},
		{Name: "click", Run: func(ctx context.Context, d Driver, sel Selector) error {
			return d.Click(ctx, sel)
		}},
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
