// File: internal/launcher/launcher.go

// Package launcher opens a meeting in the operator's native client, next to
// the automated browser session. The launch is fire-and-forget: the native
// client is never monitored or torn down.
package launcher

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// commandContext is a seam for tests.
var commandContext = exec.CommandContext

// ZoomDeepLink builds the zoommtg:// URL that hands the meeting to the
// installed Zoom client.
func ZoomDeepLink(meetingID, passcode string) string {
	link := "zoommtg://zoom.us/join?confno=" + url.QueryEscape(meetingID)
	if passcode != "" {
		link += "&pwd=" + url.QueryEscape(passcode)
	}
	return link
}

// Open asks the OS to open target with its registered handler. The handler
// process is started and then left alone; only a failure to start is
// reported.
func Open(ctx context.Context, target string, logger *zap.Logger) error {
	name, args := openerFor(runtime.GOOS, target)
	cmd := commandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		logger.Warn("Native client launch failed",
			zap.String("opener", name),
			zap.Error(err))
		return fmt.Errorf("launcher: start %s: %w", name, err)
	}
	// Reap the opener so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	logger.Info("Native client launched", zap.String("target", target))
	return nil
}

func openerFor(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}
