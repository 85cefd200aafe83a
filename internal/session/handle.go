// File: internal/session/handle.go
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
)

// Handle is the single outstanding page driver. It pins the semaphore slot
// until Release and funnels every page interaction through the combined
// browser/request context.
type Handle struct {
	m   *Manager
	ctx context.Context

	releaseOnce sync.Once
}

var _ schemas.PageDriver = (*Handle)(nil)

// Release returns the page to the manager. Safe to call once; the handle
// is unusable afterwards.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.m.sem.Release(1)
	})
}

func (h *Handle) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(h.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL, waits for the page to settle, and checks for an
// auth wall. Landing on one invalidates the whole session.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, h.m.cfg.Network.NavigationTimeout)
	defer cancel()

	if err := h.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(h.m.cfg.Network.PostLoadWait),
	); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.navigate", err)
	}

	loc, err := h.Location(navCtx)
	if err != nil {
		return err
	}
	if h.m.isLoginWall(loc) {
		h.m.Invalidate(fmt.Sprintf("auth wall at %s", loc))
		return schemas.Errorf(schemas.KindSessionInvalidated, "session.navigate",
			"redirected to %s", loc)
	}
	return nil
}

// HTML returns the current serialized DOM.
func (h *Handle) HTML(ctx context.Context) (string, error) {
	var html string
	if err := h.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", schemas.E(schemas.KindTransientFetch, "session.html", err)
	}
	return html, nil
}

// Click dispatches a click on the first element matching the selector.
func (h *Handle) Click(ctx context.Context, selector string) error {
	if err := h.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.click", err)
	}
	return nil
}

// Type focuses the element and sends the text one keystroke at a time,
// with a short uneven pause between keys.
func (h *Handle) Type(ctx context.Context, selector, text string) error {
	actions := chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	for _, r := range text {
		key := string(r)
		if r == '\n' {
			key = kb.Enter
		}
		actions = append(actions,
			chromedp.SendKeys(selector, key, chromedp.ByQuery),
			chromedp.Sleep(keystrokeDelay()),
		)
	}
	if err := h.run(ctx, actions); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.type", err)
	}
	return nil
}

func keystrokeDelay() time.Duration {
	return time.Duration(40+rand.Intn(90)) * time.Millisecond
}

// WaitVisible blocks until the selector is visible or ctx expires.
func (h *Handle) WaitVisible(ctx context.Context, selector string) error {
	if err := h.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.wait_visible", err)
	}
	return nil
}

// Payload returns the captured response body for the named endpoint.
func (h *Handle) Payload(ctx context.Context, api string) (string, error) {
	var body string
	expr := fmt.Sprintf(
		`(window.__sw_payloads && window.__sw_payloads[%q]) || ""`, api)
	if err := h.run(ctx, chromedp.Evaluate(expr, &body)); err != nil {
		return "", schemas.E(schemas.KindTransientFetch, "session.payload", err)
	}
	if strings.TrimSpace(body) == "" {
		h.m.log.Debug("No captured payload", zap.String("api", api))
		return "", schemas.ErrNoPayload
	}
	return body, nil
}

// Location reports the page's current URL.
func (h *Handle) Location(ctx context.Context) (string, error) {
	var loc string
	if err := h.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", schemas.E(schemas.KindTransientFetch, "session.location", err)
	}
	return loc, nil
}
