// File: internal/session/manager.go

// Package session owns the single authenticated browser session: launching
// Chrome, restoring durable login state, serializing page access, and
// detecting mid-flight invalidation.
package session

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"github.com/stallwire/stallwire/internal/session/stealth"
	"github.com/stallwire/stallwire/internal/store"
)

//go:embed capture.js
var captureScript string

// State tracks where the session is in its lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateAuthenticating
	StateActive
	StateDegraded
	StateInvalidated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateInvalidated:
		return "invalidated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionStore is the durable state persistence the manager depends on.
type SessionStore interface {
	Load(profile string) (*schemas.SessionState, error)
	Save(state *schemas.SessionState) error
	Invalidate(profile string) error
}

// Manager owns the browser process and the single live page. It is the
// only component allowed to mutate session state.
type Manager struct {
	cfg     *config.Config
	store   SessionStore
	log     *zap.Logger
	persona stealth.Persona

	// sem serializes page access: exactly one Handle is outstanding.
	sem *semaphore.Weighted

	mu            sync.Mutex
	state         State
	sessionState  *schemas.SessionState
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ schemas.SessionSource = (*Manager)(nil)

// NewManager creates a session manager. The browser is not launched until
// Start is called.
func NewManager(cfg *config.Config, st SessionStore, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		log:     logger.Named("session"),
		persona: stealth.DefaultPersona,
		sem:     semaphore.NewWeighted(1),
		state:   StateUninitialized,
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start restores the stored login state and brings up an authenticated
// browser. Missing or invalid stored state fails with auth_required;
// login itself happens outside this process.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("session already started (state %s)", state)
	}
	m.state = StateAuthenticating
	m.mu.Unlock()

	st, err := m.store.Load(m.cfg.Session.Profile)
	if err != nil {
		m.setState(StateUninitialized)
		if errors.Is(err, store.ErrNotFound) {
			return schemas.Errorf(schemas.KindAuthRequired, "session.start",
				"no stored login for profile %q", m.cfg.Session.Profile)
		}
		return err
	}
	if !st.Valid {
		m.setState(StateUninitialized)
		return schemas.Errorf(schemas.KindAuthRequired, "session.start",
			"stored login for profile %q is marked invalid", m.cfg.Session.Profile)
	}
	if st.UserAgent != "" {
		m.persona.UserAgent = st.UserAgent
	}

	if err := m.launch(ctx, st); err != nil {
		m.teardownBrowser()
		m.setState(StateUninitialized)
		return err
	}

	m.mu.Lock()
	m.sessionState = st
	m.state = StateActive
	m.mu.Unlock()

	st.LastValidatedAt = time.Now()
	if err := m.store.Save(st); err != nil {
		// The session works; only persistence is limping.
		m.log.Warn("Could not persist validated session state", zap.Error(err))
		m.setState(StateDegraded)
	}

	m.log.Info("Session active",
		zap.String("profile", st.ProfileID),
		zap.Int("cookies", len(st.Cookies)))
	return nil
}

func (m *Manager) launch(ctx context.Context, st *schemas.SessionState) error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(m.cfg.Browser.ViewportWidth, m.cfg.Browser.ViewportHeight),
		chromedp.UserAgent(m.persona.UserAgent),
	)
	if m.cfg.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.Browser.UserDataDir))
	}
	for _, arg := range m.cfg.Browser.ExtraArgs {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	// The browser must outlive the Start call, so its contexts hang off
	// Background rather than ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.log.Sugar().Debugf(format, args...)
		}))

	m.mu.Lock()
	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.mu.Unlock()

	startCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()

	tasks := chromedp.Tasks{}
	tasks = append(tasks, stealth.Apply(m.persona, m.log)...)
	tasks = append(tasks,
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(captureScript).Do(c)
			return err
		}),
		chromedp.ActionFunc(func(c context.Context) error {
			return installCookies(c, st.Cookies)
		}),
	)
	if err := chromedp.Run(startCtx, tasks); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.launch", err)
	}

	navCtx, navCancel := context.WithTimeout(startCtx, m.cfg.Network.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(m.cfg.Market.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(m.cfg.Network.PostLoadWait),
	); err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.launch", err)
	}

	loc, err := currentLocation(navCtx)
	if err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.launch", err)
	}
	if m.isLoginWall(loc) {
		if err := m.store.Invalidate(st.ProfileID); err != nil {
			m.log.Warn("Could not mark stored login invalid", zap.Error(err))
		}
		return schemas.Errorf(schemas.KindAuthRequired, "session.start",
			"stored cookies were rejected, landed on %s", loc)
	}
	return nil
}

func installCookies(ctx context.Context, cookies []schemas.Cookie) error {
	for _, c := range cookies {
		setter := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly)
		if !c.Expires.IsZero() {
			expiry := cdp.TimeSinceEpoch(c.Expires)
			setter = setter.WithExpires(&expiry)
		}
		if err := setter.Do(ctx); err != nil {
			return fmt.Errorf("install cookie %q: %w", c.Name, err)
		}
	}
	return nil
}

func currentLocation(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (m *Manager) isLoginWall(location string) bool {
	marker := m.cfg.Market.LoginMarker
	return marker != "" && containsFold(location, marker)
}

// Acquire hands out the single page handle, blocking until it is free.
// The state is re-checked after the semaphore is taken: an invalidation
// that lands while waiting must not be papered over.
func (m *Manager) Acquire(ctx context.Context) (schemas.PageDriver, error) {
	if err := m.usable("session.acquire"); err != nil {
		return nil, err
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := m.usable("session.acquire"); err != nil {
		m.sem.Release(1)
		return nil, err
	}

	m.mu.Lock()
	browserCtx := m.browserCtx
	m.mu.Unlock()
	return &Handle{m: m, ctx: browserCtx}, nil
}

func (m *Manager) usable(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateActive, StateDegraded:
		return nil
	case StateInvalidated:
		return schemas.Errorf(schemas.KindSessionInvalidated, op, "session was invalidated")
	case StateClosed:
		return schemas.Errorf(schemas.KindSessionInvalidated, op, "session is closed")
	default:
		return schemas.Errorf(schemas.KindAuthRequired, op, "session not started")
	}
}

// Invalidate transitions to the invalidated state and marks the stored
// login unusable. Safe to call more than once.
func (m *Manager) Invalidate(reason string) {
	m.mu.Lock()
	if m.state == StateInvalidated || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateInvalidated
	profile := m.cfg.Session.Profile
	m.mu.Unlock()

	m.log.Warn("Session invalidated", zap.String("reason", reason))
	if err := m.store.Invalidate(profile); err != nil {
		m.log.Error("Could not mark stored login invalid", zap.Error(err))
	}
}

// SnapshotCookies reads the live cookie jar back into the stored state, so
// server-side rotations survive a restart.
func (m *Manager) SnapshotCookies(ctx context.Context) error {
	m.mu.Lock()
	browserCtx := m.browserCtx
	st := m.sessionState
	m.mu.Unlock()
	if browserCtx == nil || st == nil {
		return fmt.Errorf("no live session to snapshot")
	}

	runCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return schemas.E(schemas.KindTransientFetch, "session.snapshot", err)
	}

	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}
	st.Cookies = cookies
	st.LastValidatedAt = time.Now()

	if err := m.store.Save(st); err != nil {
		m.setState(StateDegraded)
		return err
	}
	return nil
}

// Close snapshots cookies if configured, shuts the browser down and
// releases the profile. The manager is unusable afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	wasActive := m.state == StateActive || m.state == StateDegraded
	m.mu.Unlock()

	if wasActive && m.cfg.Session.SnapshotCookies {
		// The final snapshot runs even when the caller's context is
		// already cancelled, bounded by its own deadline.
		snapCtx, cancel := context.WithTimeout(Detach(ctx), 10*time.Second)
		if err := m.SnapshotCookies(snapCtx); err != nil {
			m.log.Warn("Cookie snapshot on close failed", zap.Error(err))
		}
		cancel()
	}

	m.teardownBrowser()
	m.setState(StateClosed)
	m.log.Info("Session closed")
	return nil
}

func (m *Manager) teardownBrowser() {
	m.mu.Lock()
	browserCancel, allocCancel := m.browserCancel, m.allocCancel
	m.browserCtx, m.browserCancel, m.allocCancel = nil, nil, nil
	m.mu.Unlock()

	if browserCancel != nil {
		browserCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
