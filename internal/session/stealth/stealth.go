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

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona matches a mainland desktop Chrome profile, which is what
// the marketplace expects to see.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"zh-CN", "zh"},
	Timezone:  "Asia/Shanghai",
	Locale:    "zh-CN",
}

// Apply constructs a sequence of Chrome DevTools Protocol actions to make the
// headless browser appear more like a standard, user-operated browser.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent),

		// AddScriptToEvaluateOnNewDocument needs an ActionFunc wrapper: its
		// Do() returns two values, which doesn't match chromedp.Action.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
	}

	if al := acceptLanguage(p.Languages); al != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": al,
		}))
	}
	return tasks
}

// acceptLanguage renders a header value for any number of languages,
// with descending quality weights after the first.
func acceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	parts := []string{langs[0]}
	q := 9
	for _, l := range langs[1:] {
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", l, q))
		if q > 1 {
			q--
		}
	}
	return strings.Join(parts, ",")
}
