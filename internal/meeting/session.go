// File: internal/meeting/session.go
package meeting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truelylabs/truely-cli/internal/config"
)

// JoinRequest collects everything needed to enter a meeting.
type JoinRequest struct {
	Provider    Provider
	Target      string // join URL for the provider's web client
	Passcode    string
	DisplayName string
}

// Session drives one meeting lifecycle over a Driver. All page operations
// are funneled through a single worker goroutine, so at most one driver call
// runs at a time regardless of how many goroutines hold the session. Leave
// preempts any in-flight operation by cancelling the shared activity
// context.
type Session struct {
	id     string
	logger *zap.Logger
	drv    Driver
	cfg    config.MeetingConfig
	chains Chains
	surf   Surfaces

	ctx    context.Context
	cancel context.CancelFunc

	activityCtx    context.Context
	activityCancel context.CancelFunc

	ops chan sessionOp
	wg  sync.WaitGroup

	mu       sync.Mutex
	state    State
	joinedAt time.Time
	chatOpen bool
	degraded bool

	onRelease   func()
	releaseOnce sync.Once
	leaveOnce   sync.Once
}

type sessionOp struct {
	name string
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// NewSession builds a session over the driver and starts its worker.
// onRelease is invoked exactly once when the session reaches a terminal
// state, whether by Leave or by join failure; it is where the browser gets
// torn down.
func NewSession(parent context.Context, drv Driver, provider Provider, cfg config.MeetingConfig, logger *zap.Logger, onRelease func()) *Session {
	id := uuid.NewString()
	log := logger.Named("session").With(
		zap.String("session_id", id),
		zap.String("provider", provider.String()))

	ctx, cancel := context.WithCancel(parent)
	actCtx, actCancel := context.WithCancel(ctx)

	s := &Session{
		id:     id,
		logger: log,
		drv:    drv,
		cfg:    cfg,
		chains: Chains{
			PerAttempt: cfg.LocateTimeout,
			Pause:      cfg.AttemptPause,
			Logger:     log,
		},
		surf:           SurfacesFor(provider),
		ctx:            ctx,
		cancel:         cancel,
		activityCtx:    actCtx,
		activityCancel: actCancel,
		ops:            make(chan sessionOp),
		state:          StateIdle,
		onRelease:      onRelease,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case op := <-s.ops:
			op.done <- op.fn(op.ctx)
		}
	}
}

// submit hands fn to the worker and waits for it. Preemptible operations are
// bound to the activity context so a Leave cancels them mid-flight.
func (s *Session) submit(ctx context.Context, name string, preemptible bool, fn func(context.Context) error) error {
	base := s.ctx
	if preemptible {
		base = s.activityCtx
	}
	opCtx, cancel := combineContext(base, ctx)
	defer cancel()
	opCtx, tcancel := context.WithTimeout(opCtx, s.cfg.OpTimeout)
	defer tcancel()

	op := sessionOp{name: name, ctx: opCtx, fn: fn, done: make(chan error, 1)}
	select {
	case s.ops <- op:
	case <-opCtx.Done():
		return fmt.Errorf("session: %s not started: %w", name, opCtx.Err())
	}
	return <-op.done
}

// ID is the session's unique identifier, used in logs and alerts.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChatReady reports whether chat messages can currently be sent and read.
func (s *Session) ChatReady() bool { return s.State() == StateChatReady }

// Degraded reports whether the join completed without a confirming marker.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// JoinedAt returns when the session entered the meeting, zero if it never
// did.
func (s *Session) JoinedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedAt
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug("State transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
}

// Join navigates to the meeting and works through the pre-join screen. A nil
// return means the session considers itself in the meeting, possibly in
// degraded confidence when no post-join marker appeared. A non-nil return
// means the session failed permanently and has already released the browser.
func (s *Session) Join(ctx context.Context, req JoinRequest) error {
	return s.submit(ctx, "join", true, func(ctx context.Context) error {
		return s.doJoin(ctx, req)
	})
}

func (s *Session) doJoin(ctx context.Context, req JoinRequest) error {
	if st := s.State(); st != StateIdle {
		return fmt.Errorf("session: join from state %s", st)
	}
	s.setState(StateConnecting)

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err := s.drv.Navigate(navCtx, req.Target)
	cancel()
	if err != nil {
		return s.fail(fmt.Errorf("session: navigate %s: %w", req.Target, err))
	}
	s.logger.Info("Meeting page loaded", zap.String("url", req.Target))

	s.dismissPrompts(ctx)

	if err := s.fillIdentity(ctx, req); err != nil {
		return s.fail(err)
	}

	s.setState(StateJoining)
	el, err := s.chains.Locate(ctx, s.drv, s.surf.JoinButton)
	if err != nil {
		return s.fail(fmt.Errorf("session: join button: %w", err))
	}
	if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), el); err != nil {
		return s.fail(fmt.Errorf("session: join activation: %w", err))
	}

	if err := sleepCtx(ctx, s.cfg.JoinSettle); err != nil {
		return s.fail(err)
	}

	confirmed := false
	if _, err := s.chains.Locate(ctx, s.drv, s.surf.JoinedMarkers); err == nil {
		confirmed = true
	}

	s.mu.Lock()
	s.state = StateJoined
	s.joinedAt = time.Now()
	s.degraded = !confirmed
	s.mu.Unlock()

	if confirmed {
		s.logger.Info("Joined meeting")
	} else {
		s.logger.Warn("Join unconfirmed, proceeding optimistically")
	}
	return nil
}

// dismissPrompts clears permission interstitials. Their absence is the
// common case and never an error.
func (s *Session) dismissPrompts(ctx context.Context) {
	for range 2 {
		el, err := s.chains.Locate(ctx, s.drv, s.surf.PermissionDismiss)
		if err != nil {
			return
		}
		if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), el); err != nil {
			s.logger.Debug("Permission prompt not dismissed", zap.Error(err))
			return
		}
		s.logger.Debug("Dismissed permission prompt")
		if sleepCtx(ctx, s.cfg.AttemptPause) != nil {
			return
		}
	}
}

func (s *Session) fillIdentity(ctx context.Context, req JoinRequest) error {
	name := req.DisplayName
	if name == "" {
		name = s.cfg.DisplayName
	}
	if el, err := s.chains.Locate(ctx, s.drv, s.surf.NameField); err == nil {
		if err := s.typeInto(ctx, el.Spec.Sel, name); err != nil {
			return fmt.Errorf("session: display name: %w", err)
		}
	} else {
		// Some clients remember the name; keep going.
		s.logger.Warn("Name field not found, proceeding", zap.Error(err))
	}

	if req.Passcode == "" || len(s.surf.PasscodeField) == 0 {
		return nil
	}
	s.setState(StatePasscodeEntry)
	el, err := s.chains.Locate(ctx, s.drv, s.surf.PasscodeField)
	if err != nil {
		s.logger.Warn("Passcode field not found, proceeding", zap.Error(err))
		return nil
	}
	if err := s.typeInto(ctx, el.Spec.Sel, req.Passcode); err != nil {
		return fmt.Errorf("session: passcode: %w", err)
	}
	return nil
}

func (s *Session) typeInto(ctx context.Context, sel Selector, text string) error {
	if err := s.drv.Clear(ctx, sel); err != nil {
		s.logger.Debug("Clear failed before typing", zap.Error(err))
	}
	return s.drv.Type(ctx, sel, text)
}

// OpenChat locates and activates the chat toggle, then confirms the chat
// input is usable. Failure leaves the session in Joined: the caller keeps
// monitoring without chat capability.
func (s *Session) OpenChat(ctx context.Context) error {
	return s.submit(ctx, "open-chat", true, s.doOpenChat)
}

func (s *Session) doOpenChat(ctx context.Context) error {
	if st := s.State(); st != StateJoined {
		return fmt.Errorf("session: open chat from state %s", st)
	}
	s.setState(StateChatOpening)

	s.scopeMeetingFrame(ctx)
	s.dismissOverlays(ctx)

	el, err := s.chains.Locate(ctx, s.drv, s.surf.ChatToggle)
	if err != nil {
		s.setState(StateJoined)
		return fmt.Errorf("session: chat toggle: %w", err)
	}
	if err := s.checkChatLabel(ctx); err != nil {
		s.setState(StateJoined)
		return err
	}

	if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), el); err == nil {
		if s.confirmChatInput(ctx) {
			return s.chatReady()
		}
	}
	// Second pass with the alternate ordering before giving up.
	s.logger.Debug("Chat did not open, retrying with alternate ordering")
	if err := s.chains.Interact(ctx, s.drv, RetryInteractions(), el); err != nil {
		s.setState(StateJoined)
		return fmt.Errorf("session: chat toggle activation: %w", err)
	}
	if !s.confirmChatInput(ctx) {
		s.setState(StateJoined)
		return fmt.Errorf("session: chat input never became usable")
	}
	return s.chatReady()
}

// scopeMeetingFrame scopes queries into the meeting iframe when the client
// renders one. Its absence is the common case; the top document stays in
// scope and the chat chains run against it directly.
func (s *Session) scopeMeetingFrame(ctx context.Context) {
	if len(s.surf.MeetingFrame) == 0 {
		return
	}
	s.drv.ScopeTop()
	el, err := s.chains.Locate(ctx, s.drv, s.surf.MeetingFrame)
	if err != nil {
		s.logger.Debug("No meeting iframe, staying in top document")
		return
	}
	if err := s.drv.ScopeFrame(ctx, el.Spec.Sel); err != nil {
		s.logger.Debug("Frame scope failed, staying in top document", zap.Error(err))
		s.drv.ScopeTop()
		return
	}
	s.logger.Debug("Scoped queries into meeting iframe", zap.String("frame", el.Spec.Name))
}

// dismissOverlays clicks away any modal or overlay sitting over the meeting
// controls. Unlike a locator chain, every visible candidate gets a click:
// more than one layer can be up at once.
func (s *Session) dismissOverlays(ctx context.Context) {
	for _, spec := range s.surf.OverlayDismiss {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.chains.Locate(ctx, s.drv, LocatorChain{spec}); err != nil {
			continue
		}
		if err := s.drv.Click(ctx, spec.Sel); err != nil {
			s.logger.Debug("Overlay not dismissed",
				zap.String("spec", spec.Name), zap.Error(err))
			continue
		}
		s.logger.Debug("Dismissed overlay", zap.String("spec", spec.Name))
		if sleepCtx(ctx, s.cfg.AttemptPause) != nil {
			return
		}
	}
}

// checkChatLabel verifies the control the broad fallback specs found really
// is the chat toggle: the label text must match exactly, not by substring.
func (s *Session) checkChatLabel(ctx context.Context) error {
	if s.surf.ChatLabel.Query == "" {
		return nil
	}
	txt, err := s.drv.Text(ctx, s.surf.ChatLabel)
	if err != nil {
		s.logger.Debug("Chat label unreadable, trusting locator", zap.Error(err))
		return nil
	}
	if strings.TrimSpace(txt) != s.surf.ChatLabelText {
		return fmt.Errorf("session: chat toggle label %q, want %q", strings.TrimSpace(txt), s.surf.ChatLabelText)
	}
	return nil
}

func (s *Session) confirmChatInput(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatConfirmWait)
	defer cancel()
	_, err := s.chains.Locate(waitCtx, s.drv, s.surf.ChatInput)
	return err == nil
}

func (s *Session) chatReady() error {
	s.mu.Lock()
	s.state = StateChatReady
	s.chatOpen = true
	s.mu.Unlock()
	s.logger.Info("Chat panel open")
	return nil
}

// SendMessage types text into the chat input and submits it. Requires
// ChatReady.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	return s.submit(ctx, "send-message", true, func(ctx context.Context) error {
		return s.doSend(ctx, text)
	})
}

func (s *Session) doSend(ctx context.Context, text string) error {
	if st := s.State(); st != StateChatReady {
		return fmt.Errorf("session: send from state %s", st)
	}
	el, err := s.chains.Locate(ctx, s.drv, s.surf.ChatInput)
	if err != nil {
		return fmt.Errorf("session: chat input: %w", err)
	}
	sel := el.Spec.Sel
	if err := s.drv.Click(ctx, sel); err != nil {
		return fmt.Errorf("session: chat input focus: %w", err)
	}
	if err := s.drv.Type(ctx, sel, text); err != nil {
		return fmt.Errorf("session: chat input type: %w", err)
	}
	if err := s.drv.PressEnter(ctx, sel); err != nil {
		return fmt.Errorf("session: chat submit: %w", err)
	}
	s.logger.Debug("Chat message sent", zap.Int("length", len(text)))
	return nil
}

// CollectChatMessages scrapes the visible chat entries. Requires ChatReady.
func (s *Session) CollectChatMessages(ctx context.Context) ([]ChatCapture, error) {
	var caps []ChatCapture
	err := s.submit(ctx, "collect-chat", true, func(ctx context.Context) error {
		if st := s.State(); st != StateChatReady {
			return fmt.Errorf("session: collect from state %s", st)
		}
		var err error
		caps, err = s.drv.CollectText(ctx, s.surf.ChatMessages)
		return err
	})
	return caps, err
}

// Leave is the single exit path. It preempts any in-flight operation,
// makes a best-effort attempt to exit the meeting politely, marks the
// session Closed, and releases the browser. It never fails and is safe to
// call any number of times from any goroutine.
func (s *Session) Leave(ctx context.Context) {
	s.leaveOnce.Do(func() {
		s.activityCancel()

		leaveCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaveTimeout)
		defer cancel()
		if err := s.submit(leaveCtx, "leave", false, s.doLeave); err != nil {
			s.logger.Debug("Leave sequence incomplete", zap.Error(err))
		}

		s.mu.Lock()
		if s.state != StateFailed {
			s.state = StateClosed
		}
		s.mu.Unlock()
		s.logger.Info("Session closed")

		s.release()
		s.cancel()
	})
}

func (s *Session) doLeave(ctx context.Context) error {
	st := s.State()
	if st.Terminal() || st == StateIdle {
		return nil
	}
	s.setState(StateLeaving)

	s.mu.Lock()
	chatOpen := s.chatOpen
	s.mu.Unlock()
	if chatOpen {
		s.partingMessage(ctx)
	}

	el, err := s.chains.Locate(ctx, s.drv, s.surf.LeaveButton)
	if err != nil {
		return fmt.Errorf("session: leave button: %w", err)
	}
	// First activation reveals the confirm affordance, second acknowledges
	// it; providers that leave on the first simply ignore the second.
	if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), el); err != nil {
		return fmt.Errorf("session: leave activation: %w", err)
	}
	if err := sleepCtx(ctx, s.cfg.AttemptPause); err != nil {
		return err
	}
	if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), el); err != nil {
		s.logger.Debug("Second leave activation failed", zap.Error(err))
	}
	if len(s.surf.LeaveConfirm) > 0 {
		if confirm, err := s.chains.Locate(ctx, s.drv, s.surf.LeaveConfirm); err == nil {
			if err := s.chains.Interact(ctx, s.drv, DefaultInteractions(), confirm); err != nil {
				s.logger.Debug("Leave confirmation not activated", zap.Error(err))
			}
		}
	}
	return nil
}

// partingMessage says goodbye before leaving. Every failure is ignored; the
// chat may already be gone.
func (s *Session) partingMessage(ctx context.Context) {
	el, err := s.chains.Locate(ctx, s.drv, s.surf.ChatInput)
	if err != nil {
		return
	}
	sel := el.Spec.Sel
	if err := s.drv.Click(ctx, sel); err != nil {
		return
	}
	if err := s.drv.Type(ctx, sel, "Truely signing off. Goodbye!"); err != nil {
		return
	}
	if err := s.drv.PressEnter(ctx, sel); err != nil {
		s.logger.Debug("Parting message not submitted", zap.Error(err))
	}
}

// fail moves the session to Failed, releases the browser, and stops the
// worker. Always returns err for use as "return s.fail(err)".
func (s *Session) fail(err error) error {
	s.logger.Error("Session failed", zap.Error(err))
	s.setState(StateFailed)
	s.release()
	s.cancel()
	return err
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// Wait blocks until the worker goroutine has exited.
func (s *Session) Wait() { s.wg.Wait() }

// combineContext derives a context that is cancelled as soon as either
// parent is.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
