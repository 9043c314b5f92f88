// File: internal/orchestrator/orchestrator.go

// Package orchestrator wires the meeting session, the chat command channel,
// and the process detector into one run: join, announce, then monitor until
// a shutdown trigger fires. Signal cancellation, the chat shutdown command,
// and run completion all converge on a single idempotent unwind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/truelylabs/truely-cli/internal/config"
	"github.com/truelylabs/truely-cli/internal/detector"
	"github.com/truelylabs/truely-cli/internal/meeting"
)

// MeetingSession is the session surface the orchestrator drives.
type MeetingSession interface {
	Join(ctx context.Context, req meeting.JoinRequest) error
	OpenChat(ctx context.Context) error
	SendMessage(ctx context.Context, text string) error
	Leave(ctx context.Context)
	State() meeting.State
	ChatReady() bool
}

// CommandChannel is the inbound chat command monitor.
type CommandChannel interface {
	ExcludeSystemMessage(text string)
	Arm()
	Run(ctx context.Context, shutdown chan<- struct{}) error
}

// ProcessScanner feeds detection ticks.
type ProcessScanner interface {
	Run(ctx context.Context, interval time.Duration, fn detector.TickFunc) error
}

// AlertBridge forwards detections into the meeting chat.
type AlertBridge interface {
	OnDetection(ctx context.Context, events []detector.Event)
}

// LaunchFunc opens a target in the operator's native client.
type LaunchFunc func(ctx context.Context, target string) error

const introMessage = "Hello everyone! Truely is monitoring this meeting for unauthorized assistance tools."

// Orchestrator runs one monitored meeting end to end.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	session MeetingSession
	monitor CommandChannel
	scanner ProcessScanner
	relay   AlertBridge

	// launch is nil when the human-join side channel is disabled.
	launch       LaunchFunc
	launchTarget string

	shutdownOnce sync.Once
}

// New wires an orchestrator. launch and launchTarget may be zero to skip the
// native-client side channel.
func New(cfg *config.Config, session MeetingSession, monitor CommandChannel, scanner ProcessScanner, relay AlertBridge, launch LaunchFunc, launchTarget string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		logger:       logger.Named("orchestrator"),
		session:      session,
		monitor:      monitor,
		scanner:      scanner,
		relay:        relay,
		launch:       launch,
		launchTarget: launchTarget,
	}
}

// Run drives the full lifecycle. It returns once the session is closed and
// the browser released, whatever triggered the shutdown.
func (o *Orchestrator) Run(ctx context.Context, req meeting.JoinRequest) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer o.shutdown()

	if err := o.session.Join(runCtx, req); err != nil {
		return fmt.Errorf("orchestrator: join: %w", err)
	}

	if o.launch != nil && o.launchTarget != "" {
		// Fire and forget; the native client is the operator's problem.
		if err := o.launch(runCtx, o.launchTarget); err != nil {
			o.logger.Warn("Native client side channel unavailable", zap.Error(err))
		}
	}

	if err := o.session.OpenChat(runCtx); err != nil {
		o.logger.Warn("Continuing without chat capability", zap.Error(err))
	}
	if o.session.ChatReady() {
		o.announce(runCtx)
	}
	o.monitor.Arm()

	shutdownCh := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return o.monitor.Run(gctx, shutdownCh)
	})
	g.Go(func() error {
		return o.scanner.Run(gctx, o.cfg.Detector.Interval, func(ctx context.Context, events []detector.Event, newPIDs map[int32]struct{}) {
			// Only newly appearing processes raise alerts; a process that
			// keeps running has already been reported.
			if len(newPIDs) > 0 {
				o.relay.OnDetection(ctx, events)
			}
		})
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-shutdownCh:
			o.logger.Info("Shutdown requested from meeting chat")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}

// announce posts the greeting and the shutdown instructions. The instruction
// text quotes the token, so it is registered as a system template before the
// command channel is armed.
func (o *Orchestrator) announce(ctx context.Context) {
	instructions := fmt.Sprintf(
		"Automated monitoring is active. Type %s in this chat to dismiss me.",
		o.cfg.Command.ShutdownToken)
	o.monitor.ExcludeSystemMessage(instructions)

	for _, msg := range []string{introMessage, instructions} {
		if err := o.session.SendMessage(ctx, msg); err != nil {
			o.logger.Warn("Announcement not delivered", zap.Error(err))
		}
	}
}

// shutdown is the single unwind: leave the meeting, which in turn releases
// the browser. Safe to reach from every exit path.
func (o *Orchestrator) shutdown() {
	o.shutdownOnce.Do(func() {
		o.logger.Info("Shutting down")
		leaveCtx, cancel := context.WithTimeout(context.Background(), o.cfg.Meeting.LeaveTimeout)
		defer cancel()
		o.session.Leave(leaveCtx)
	})
}
