package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/models"
)

// ProxySource supplies the outbound proxy for a new session; nil means direct
type ProxySource interface {
	Resolve(ctx context.Context) (*models.Proxy, error)
}

// Manager builds, validates and tears down the per-worker sessions.
// initMu serializes browser creation; loginMu serializes logins against the single account.
type Manager struct {
	initMu  sync.Mutex
	loginMu sync.Mutex

	mu    sync.Mutex
	slots map[int]*Slot

	state    *LoginState
	launcher interfaces.BrowserLauncher
	cookies  interfaces.CookieStorage
	catalog  *locators.Catalog
	proxies  ProxySource
	clock    common.Clock
	opts     Options
	logger   arbor.ILogger
}

// NewManager creates a Manager. proxies may be nil.
func NewManager(
	opts Options,
	launcher interfaces.BrowserLauncher,
	cookies interfaces.CookieStorage,
	catalog *locators.Catalog,
	proxies ProxySource,
	state *LoginState,
	clock common.Clock,
	logger arbor.ILogger,
) *Manager {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if state == nil {
		state = NewLoginState()
	}
	return &Manager{
		slots:    make(map[int]*Slot),
		state:    state,
		launcher: launcher,
		cookies:  cookies,
		catalog:  catalog,
		proxies:  proxies,
		clock:    clock,
		opts:     opts,
		logger:   logger,
	}
}

// LoginState returns the shared login flag
func (m *Manager) LoginState() *LoginState {
	return m.state
}

// Acquire returns a valid session for slot, reusing the existing one when it is still
// young, alive and owned by the slot's worker.
func (m *Manager) Acquire(ctx context.Context, slot *Slot) (*Session, error) {
	if s := slot.session; s != nil {
		err := m.validate(ctx, slot, s)
		if err == nil {
			s.LastActivity = m.clock.Now()
			return s, nil
		}
		m.logger.Info().
			Int("worker_id", slot.WorkerID).
			Err(err).
			Msg("Discarding session")
		m.Teardown(slot)
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	session, err := m.create(ctx, slot.WorkerID)
	if err != nil {
		return nil, err
	}

	slot.session = session
	m.mu.Lock()
	m.slots[slot.WorkerID] = slot
	m.mu.Unlock()

	return session, nil
}

var errStale = errors.New("session exceeded max age")

func (m *Manager) validate(ctx context.Context, slot *Slot, s *Session) error {
	if s.OwnerWorker != slot.WorkerID {
		return fmt.Errorf("session owned by worker %d", s.OwnerWorker)
	}
	if !s.Authenticated {
		return errors.New("session not authenticated")
	}
	if m.opts.MaxAge > 0 && s.Age(m.clock.Now()) > m.opts.MaxAge {
		// Old cookies tend to be rejected mid-flow, so force a fresh login
		if err := m.cookies.DeleteCookies(ctx, m.opts.CookieKey); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("Failed to delete stale cookies")
		}
		return errStale
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	if err := s.Browser.Alive(probeCtx); err != nil {
		return err
	}
	if _, err := s.Page().URL(probeCtx); err != nil {
		return fmt.Errorf("page unreadable: %w", err)
	}
	return nil
}

func (m *Manager) create(ctx context.Context, workerID int) (*Session, error) {
	userAgent := m.pickUserAgent()

	var proxy *models.Proxy
	if m.proxies != nil {
		p, err := m.proxies.Resolve(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Proxy unavailable, connecting directly")
		} else {
			proxy = p
		}
	}

	browser, err := m.launcher.Launch(ctx, interfaces.LaunchOptions{
		ExecPath:     m.opts.ExecPath,
		Headless:     m.opts.Headless,
		UserAgent:    userAgent,
		Proxy:        proxy,
		DownloadDir:  m.opts.DownloadDir,
		WindowWidth:  m.opts.WindowWidth,
		WindowHeight: m.opts.WindowHeight,
		Timeout:      m.opts.StartupTimeout,
	})
	if err != nil {
		return nil, faults.SessionFatal("launch browser", "login failed", err)
	}

	page := browser.Page()
	m.restoreCookies(ctx, page)

	if err := m.loginLocked(ctx, page); err != nil {
		_ = browser.Close()
		m.logger.Error().
			Int("worker_id", workerID).
			Err(err).
			Msg("Login failed")
		return nil, faults.SessionFatal("login", "login failed", err)
	}

	m.persistCookies(ctx, page, userAgent)

	now := m.clock.Now()
	m.logger.Info().
		Int("worker_id", workerID).
		Bool("proxied", proxy != nil).
		Msg("Session ready")

	return &Session{
		Browser:       browser,
		Authenticated: true,
		CreatedAt:     now,
		LastActivity:  now,
		Proxy:         proxy,
		UserAgent:     userAgent,
		OwnerWorker:   workerID,
	}, nil
}

func (m *Manager) loginLocked(ctx context.Context, page interfaces.Page) error {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	m.state.begin()
	defer m.state.end()

	return m.login(ctx, page)
}

func (m *Manager) pickUserAgent() string {
	if len(m.opts.UserAgents) == 0 {
		return ""
	}
	return m.opts.UserAgents[rand.IntN(len(m.opts.UserAgents))]
}

// restoreCookies loads the persisted jar when it carries any session cookie
func (m *Manager) restoreCookies(ctx context.Context, page interfaces.Page) {
	jar, err := m.cookies.LoadCookies(ctx, m.opts.CookieKey)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("Failed to load saved cookies")
		}
		return
	}
	if !jar.HasAny(m.opts.RequiredCookies...) {
		m.logger.Debug().Msg("Saved cookies lack session cookies, skipping restore")
		return
	}
	if err := page.SetCookies(ctx, jar.Cookies); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to restore cookies")
		return
	}
	m.logger.Debug().
		Int("count", len(jar.Cookies)).
		Str("saved_at", jar.SavedAt.Format("2006-01-02 15:04:05")).
		Msg("Restored saved cookies")
}

func (m *Manager) persistCookies(ctx context.Context, page interfaces.Page, userAgent string) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to read cookies after login")
		return
	}
	jar := &models.CookieJar{
		Key:       m.opts.CookieKey,
		BaseURL:   m.opts.BaseURL,
		UserAgent: userAgent,
		Cookies:   cookies,
		SavedAt:   m.clock.Now(),
	}
	if err := m.cookies.SaveCookies(ctx, jar); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist cookies")
	}
}

// Teardown closes the slot's browser and clears the slot
func (m *Manager) Teardown(slot *Slot) {
	s := slot.session
	slot.session = nil
	if s == nil {
		return
	}
	if err := s.Browser.Close(); err != nil {
		m.logger.Warn().Int("worker_id", slot.WorkerID).Err(err).Msg("Failed to close browser")
	}
	m.logger.Debug().Int("worker_id", slot.WorkerID).Msg("Session torn down")
}

// Close tears down every slot the manager has served
func (m *Manager) Close() {
	m.mu.Lock()
	slots := make([]*Slot, 0, len(m.slots))
	for _, slot := range m.slots {
		slots = append(slots, slot)
	}
	m.slots = make(map[int]*Slot)
	m.mu.Unlock()

	for _, slot := range slots {
		m.Teardown(slot)
	}
}
