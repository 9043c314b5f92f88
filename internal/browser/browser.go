// File: internal/browser/browser.go

// Package browser owns the automated browser process: allocation with the
// stealth persona applied, and a layered release that guarantees no orphaned
// browser survives the session.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/truelylabs/truely-cli/internal/browser/stealth"
	"github.com/truelylabs/truely-cli/internal/config"
)

// Test seams for the forced-cleanup steps.
var (
	killProcess = func(pid int) error {
		p, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		return p.Kill()
	}
	sweepByName = func(ctx context.Context, name string) error {
		return exec.CommandContext(ctx, "pkill", "-9", "-f", name).Run()
	}
)

const gracefulCloseTimeout = 10 * time.Second

// Handle is an acquired browser. It owns the chromedp contexts and the PIDs
// of the processes it spawned.
type Handle struct {
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	pids      []int
	sweepName string
	sweep     bool

	mu       sync.Mutex
	released bool
}

// Acquire launches a browser per cfg, applies the persona, and returns a
// handle. On any failure everything already started is torn down before the
// error is returned.
func Acquire(ctx context.Context, cfg config.BrowserConfig, persona stealth.Persona, logger *zap.Logger) (*Handle, error) {
	log := logger.Named("browser")

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
	)
	ua := cfg.UserAgent
	if ua == "" {
		ua = persona.UserAgent
	}
	opts = append(opts, chromedp.UserAgent(ua))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	h := &Handle{
		logger:        log,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sweepName:     sweepNameFor(cfg.ExecPath),
		sweep:         cfg.KillSweep,
	}

	if err := chromedp.Run(browserCtx, stealth.Apply(persona, log)); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start: %w", err)
	}

	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if p := c.Browser.Process(); p != nil {
			h.pids = append(h.pids, p.Pid)
		}
	}
	log.Info("Browser acquired",
		zap.Bool("headless", cfg.Headless),
		zap.Ints("pids", h.pids))
	return h, nil
}

func sweepNameFor(execPath string) string {
	if execPath != "" {
		return filepath.Base(execPath)
	}
	return "chrome"
}

// Ctx is the chromedp browser context page operations run against.
func (h *Handle) Ctx() context.Context { return h.browserCtx }

// PIDs returns the tracked browser process IDs.
func (h *Handle) PIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.pids...)
}

// Release tears the browser down in three independent steps: a bounded
// graceful close, a hard kill of every tracked PID, and on POSIX a
// kill-by-name sweep. Each step runs regardless of whether the previous one
// succeeded, and repeated calls are safe.
func (h *Handle) Release() {
	h.mu.Lock()
	first := !h.released
	h.released = true
	pids := append([]int(nil), h.pids...)
	h.mu.Unlock()

	if first {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(h.browserCtx) }()
		select {
		case err := <-done:
			if err != nil {
				h.logger.Debug("Graceful browser close failed", zap.Error(err))
			}
		case <-time.After(gracefulCloseTimeout):
			h.logger.Warn("Graceful browser close timed out")
		}
	}
	h.browserCancel()
	h.allocCancel()

	for _, pid := range pids {
		if err := killProcess(pid); err != nil {
			// Normal when the graceful close already reaped it.
			h.logger.Debug("Kill skipped", zap.Int("pid", pid), zap.Error(err))
		} else {
			h.logger.Debug("Killed browser process", zap.Int("pid", pid))
		}
	}

	if h.sweep && runtime.GOOS != "windows" {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sweepByName(sweepCtx, h.sweepName); err != nil {
			h.logger.Debug("Process sweep found nothing", zap.String("name", h.sweepName), zap.Error(err))
		}
	}

	if first {
		h.logger.Info("Browser released")
	}
}
