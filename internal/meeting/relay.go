// File: internal/meeting/relay.go
package meeting

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/truelylabs/truely-cli/internal/detector"
)

// AlertSender is the slice of the session the relay posts through.
type AlertSender interface {
	SendMessage(ctx context.Context, text string) error
	ChatReady() bool
}

// AlertRelay turns detector findings into chat alerts, at most one per
// cooldown window. Alerts raised while chat is unavailable or inside the
// window are dropped, not queued; a send that fails does not consume the
// window.
type AlertRelay struct {
	logger  *zap.Logger
	sender  AlertSender
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewAlertRelay builds a relay with the given cooldown between alerts.
func NewAlertRelay(sender AlertSender, cooldown time.Duration, logger *zap.Logger) *AlertRelay {
	return &AlertRelay{
		logger:  logger.Named("relay"),
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(cooldown), 1),
		clock:   time.Now,
	}
}

// OnDetection relays the first of the events as a chat alert, subject to
// chat availability and the cooldown.
func (r *AlertRelay) OnDetection(ctx context.Context, events []detector.Event) {
	if len(events) == 0 {
		return
	}
	if !r.sender.ChatReady() {
		r.logger.Debug("Alert dropped, chat not available",
			zap.Int("events", len(events)))
		return
	}
	if r.limiter.TokensAt(r.clock()) < 1 {
		r.logger.Debug("Alert suppressed by cooldown",
			zap.Int("events", len(events)))
		return
	}
	msg := r.format(events[0])
	if err := r.sender.SendMessage(ctx, msg); err != nil {
		// The token is only taken after a successful send, so the failed
		// attempt does not consume the window.
		r.logger.Warn("Alert send failed", zap.Error(err))
		return
	}
	r.limiter.AllowN(r.clock(), 1)
	r.logger.Info("Alert posted to chat",
		zap.String("kind", events[0].Kind.String()),
		zap.Int32("pid", events[0].PID))
}

var markupRe = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes presentation markup and entity escapes so the alert
// reads as plain text in the chat.
func stripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(markupRe.ReplaceAllString(s, "")))
}

func (r *AlertRelay) format(ev detector.Event) string {
	return fmt.Sprintf(
		"ALERT: SUSPICIOUS ACTIVITY DETECTED [%s]\n%s\n\nThis process was flagged by automated monitoring.",
		r.clock().Format("15:04:05"),
		stripMarkup(ev.Text),
	)
}
