// Package session owns the single browser session and every operation
// the tool surface exposes against it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"webpen/internal/browser"
	"webpen/internal/capture"
	"webpen/internal/intervene"
	ilog "webpen/internal/log"
	"webpen/internal/rules"
	"webpen/internal/storage"
	"webpen/pkg/domain"
)

// Manager is the process-wide session owner. At most one session is
// Running at any time; every operation except Launch goes through the
// requireRunning gate.
type Manager struct {
	newBrowser browser.Factory
	archive    *storage.Archive // nil disables persistence

	mu           sync.Mutex
	state        domain.State
	launching    bool
	id           domain.SessionID
	cfg          domain.SessionConfig
	br           browser.Browser
	loopCtx      context.Context
	loopCancel   context.CancelFunc
	intercepting bool
	monitoring   bool
	bypassCancel context.CancelFunc

	engine *rules.Engine
	buf    *capture.Buffer
	reg    *intervene.Registry
}

func NewManager(factory browser.Factory, archive *storage.Archive) *Manager {
	return &Manager{
		newBrowser: factory,
		archive:    archive,
		state:      domain.StateUnstarted,
		engine:     rules.New(),
		buf:        capture.New(),
		reg:        intervene.New(),
	}
}

// Launch starts a new session. Per-session resources are reset so no
// rules, logs or interventions leak across sessions.
func (m *Manager) Launch(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error) {
	// The launching flag holds the singleton gate across the whole
	// start, so a second concurrent Launch cannot slip past while the
	// first is still waiting on the browser process.
	m.mu.Lock()
	if m.state == domain.StateRunning || m.launching {
		m.mu.Unlock()
		return "", domain.ErrAlreadyRunning
	}
	m.launching = true
	m.mu.Unlock()

	br := m.newBrowser(cfg)
	if err := br.Start(ctx); err != nil {
		m.mu.Lock()
		m.launching = false
		m.mu.Unlock()
		return "", fmt.Errorf("launch session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.launching = false
	m.state = domain.StateRunning
	m.id = domain.SessionID(uuid.NewString())
	m.cfg = cfg
	m.br = br
	m.loopCtx = loopCtx
	m.loopCancel = cancel
	m.intercepting = false
	m.monitoring = false
	m.engine.Replace(rules.RuleSet{Block: cfg.BlockPatterns})
	m.buf.Reset()
	m.reg.Reset()
	id := m.id
	m.mu.Unlock()

	go m.watchCrash(loopCtx, br, id)

	// Launch-time block patterns need the interception point active.
	if len(cfg.BlockPatterns) > 0 {
		if err := m.startInterception(ctx); err != nil {
			ilog.L().Err(err).Msg("enable launch-time blocking")
		}
	}

	ilog.L().Info().Str("sessionId", string(id)).Bool("headless", cfg.Headless).Msg("session launched")
	return id, nil
}

// Close terminates the running session, unblocking every waiter and
// flushing captured traffic to the archive.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domain.StateRunning {
		m.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	br := m.br
	id := m.id
	cancel := m.loopCancel
	bypass := m.bypassCancel
	m.state = domain.StateClosed
	m.br = nil
	m.loopCancel = nil
	m.bypassCancel = nil
	m.intercepting = false
	m.monitoring = false
	m.mu.Unlock()

	if bypass != nil {
		bypass()
	}
	if cancel != nil {
		cancel()
	}
	m.reg.CancelAll()
	m.flushArchive(id)
	m.buf.DropFetchers()
	m.buf.SetEnabled(false)

	if err := br.Stop(ctx); err != nil {
		ilog.L().Err(err).Msg("stop browser")
	}
	ilog.L().Info().Str("sessionId", string(id)).Msg("session closed")
	return nil
}

// watchCrash force-closes the session when the browser process dies out
// from under us.
func (m *Manager) watchCrash(ctx context.Context, br browser.Browser, id domain.SessionID) {
	select {
	case <-ctx.Done():
		return
	case err := <-br.Crashed():
		ilog.L().Error().Err(err).Str("sessionId", string(id)).Msg("browser crashed")
	}

	m.mu.Lock()
	// Only close the session the crash belongs to.
	if m.state != domain.StateRunning || m.id != id {
		m.mu.Unlock()
		return
	}
	cancel := m.loopCancel
	bypass := m.bypassCancel
	m.state = domain.StateClosed
	m.br = nil
	m.loopCancel = nil
	m.bypassCancel = nil
	m.intercepting = false
	m.monitoring = false
	m.mu.Unlock()

	if bypass != nil {
		bypass()
	}
	if cancel != nil {
		cancel()
	}
	m.reg.CancelAll()
	m.flushArchive(id)
	m.buf.DropFetchers()
	m.buf.SetEnabled(false)
	br.Stop(context.Background())
}

func (m *Manager) flushArchive(id domain.SessionID) {
	if m.archive == nil {
		return
	}
	if err := m.archive.Save(id, m.buf.Logs("")); err != nil {
		ilog.L().Err(err).Msg("flush exchange archive")
	}
}

// State reports the lifecycle state and, when Running, the session id.
func (m *Manager) State() (domain.State, domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.id
}

// requireRunning is the single gate every non-Launch operation passes.
// It returns the collaborator without holding the session lock, so
// long-running browser calls never serialize behind it.
func (m *Manager) requireRunning() (browser.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateRunning {
		return nil, domain.ErrNoActiveSession
	}
	return m.br, nil
}

// Navigation.

func (m *Manager) Navigate(ctx context.Context, url string) (domain.PageInfo, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.PageInfo{}, err
	}
	if err := br.Navigate(ctx, url); err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return domain.PageInfo{}, err
		}
		return domain.PageInfo{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return br.PageInfo(ctx)
}

func (m *Manager) GoBack(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	return br.Back(ctx)
}

func (m *Manager) GoForward(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	return br.Forward(ctx)
}

func (m *Manager) Refresh(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	return br.Reload(ctx)
}

func (m *Manager) PageInfo(ctx context.Context) (domain.PageInfo, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.PageInfo{}, err
	}
	return br.PageInfo(ctx)
}
