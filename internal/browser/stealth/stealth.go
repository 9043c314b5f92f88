package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the browser characteristics to emulate. Conferencing web
// clients degrade or refuse service to browsers they classify as automated,
// so the session presents as an ordinary desktop Chrome.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is a plausible desktop profile.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// Apply builds the DevTools actions that align the running browser with the
// persona. Run it once, immediately after the browser context is created and
// before the first navigation, so the evasions script is installed on every
// document.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("user_agent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent),

		// AddScriptToEvaluateOnNewDocument returns two values, so it needs
		// the ActionFunc wrapper.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}),
	}
}

func acceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", l, 10-i))
	}
	return strings.Join(parts, ",")
}
