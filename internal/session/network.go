package session

import (
	"context"
	"time"

	"webpen/internal/browser"
	ilog "webpen/internal/log"
	"webpen/internal/rules"
	"webpen/pkg/domain"
	"webpen/pkg/traffic"
)

// EnableMonitoring starts recording observed exchanges into the capture
// buffer. Idempotent.
func (m *Manager) EnableMonitoring(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}

	m.mu.Lock()
	already := m.monitoring
	m.monitoring = true
	loopCtx := m.loopCtx
	m.mu.Unlock()

	m.buf.SetEnabled(true)
	if already {
		return nil
	}
	if err := br.EnableNetwork(ctx); err != nil {
		m.buf.SetEnabled(false)
		m.mu.Lock()
		m.monitoring = false
		m.mu.Unlock()
		return err
	}
	go m.consumeNetwork(loopCtx, br)
	return nil
}

// DisableMonitoring stops new appends. Existing entries stay readable.
func (m *Manager) DisableMonitoring() error {
	if _, err := m.requireRunning(); err != nil {
		return err
	}
	m.buf.SetEnabled(false)
	return nil
}

// Logs returns captured exchanges oldest first, optionally filtered by a
// URL substring.
func (m *Manager) Logs(filterURL string) ([]domain.NetworkLogEntry, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == domain.StateUnstarted {
		return nil, domain.ErrNoActiveSession
	}
	// Logs survive Close so captured traffic stays inspectable.
	return m.buf.Logs(filterURL), nil
}

// ResponseBody retrieves (and caches) the body for one captured exchange.
func (m *Manager) ResponseBody(ctx context.Context, id domain.RequestID) ([]byte, error) {
	return m.buf.ResponseBody(ctx, id)
}

// EnableInterception activates the request pause point with the current
// rule set.
func (m *Manager) EnableInterception(ctx context.Context) error {
	if _, err := m.requireRunning(); err != nil {
		return err
	}
	return m.startInterception(ctx)
}

func (m *Manager) startInterception(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}

	m.mu.Lock()
	already := m.intercepting
	m.intercepting = true
	m.mu.Unlock()
	if already {
		return nil
	}

	m.mu.Lock()
	loopCtx := m.loopCtx
	m.mu.Unlock()
	if err := br.EnableFetch(ctx); err != nil {
		m.mu.Lock()
		m.intercepting = false
		m.mu.Unlock()
		return err
	}
	go m.consumeFetch(loopCtx, br)
	return nil
}

// DisableInterception releases the pause point. The rule set is kept for
// the next enable.
func (m *Manager) DisableInterception(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.intercepting = false
	m.mu.Unlock()
	return br.DisableFetch(ctx)
}

// SetupHandler replaces the rule set atomically and makes sure the pause
// point is active. Requests paused after this returns see the new rules
// in full.
func (m *Manager) SetupHandler(ctx context.Context, rs rules.RuleSet) error {
	if _, err := m.requireRunning(); err != nil {
		return err
	}
	m.engine.Replace(rs)
	return m.startInterception(ctx)
}

// consumeNetwork appends live exchanges with lazy body fetchers. One
// goroutine per session; completion order is capture order.
func (m *Manager) consumeNetwork(ctx context.Context, br browser.Browser) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-br.NetworkEvents():
			if !ok {
				return
			}
			id := domain.RequestID(ev.RequestID)
			m.buf.Append(domain.NetworkLogEntry{
				RequestID:       id,
				URL:             ev.URL,
				Method:          ev.Method,
				ResourceType:    ev.ResourceType,
				Status:          ev.Status,
				RequestHeaders:  ev.RequestHeaders,
				ResponseHeaders: ev.ResponseHeaders,
				Outcome:         domain.OutcomeLive,
				Timestamp:       ev.Timestamp,
			}, func(ctx context.Context) ([]byte, error) {
				return br.ResponseBody(ctx, ev.RequestID)
			})
		}
	}
}

// consumeFetch dispatches each paused request on its own goroutine so a
// slow verdict never stalls the stream.
func (m *Manager) consumeFetch(ctx context.Context, br browser.Browser) {
	for {
		select {
		case <-ctx.Done():
			return
		case pr, ok := <-br.FetchEvents():
			if !ok {
				return
			}
			go m.handlePaused(br, pr)
		}
	}
}

func (m *Manager) handlePaused(br browser.Browser, pr browser.PausedRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	d := m.engine.Eval(pr.Request.URL)
	switch d.Kind {
	case rules.Block:
		if err := br.FailRequest(ctx, pr.ID); err != nil {
			m.degrade(ctx, br, pr, err)
			return
		}
		m.recordSynthetic(pr, 0, domain.OutcomeBlocked, d.Pattern, nil, nil)

	case rules.Mock:
		res := mockResponse(d.Mock)
		if err := br.FulfillRequest(ctx, pr.ID, res); err != nil {
			m.degrade(ctx, br, pr, err)
			return
		}
		headers := map[string]string(res.Headers.Clone())
		m.recordSynthetic(pr, res.StatusCode, domain.OutcomeMocked, d.Pattern, headers, d.Mock.Body)

	case rules.Modify:
		merged := pr.Request.Headers.Clone()
		for k, v := range d.Headers {
			merged.Set(k, v)
		}
		if err := br.ContinueRequest(ctx, pr.ID, merged); err != nil {
			m.degrade(ctx, br, pr, err)
		}

	default:
		if err := br.ContinueRequest(ctx, pr.ID, nil); err != nil {
			ilog.L().Err(err).Str("url", pr.Request.URL).Msg("continue request")
		}
	}
}

// degrade lets the request through untouched after a verdict failure.
// Breaking page loads over an interception hiccup is worse than missing
// one rule application.
func (m *Manager) degrade(ctx context.Context, br browser.Browser, pr browser.PausedRequest, cause error) {
	ilog.L().Warn().Err(cause).Str("url", pr.Request.URL).Msg("interception verdict failed, continuing")
	if err := br.ContinueRequest(ctx, pr.ID, nil); err != nil {
		ilog.L().Err(err).Str("url", pr.Request.URL).Msg("degrade continue")
	}
}

func (m *Manager) recordSynthetic(pr browser.PausedRequest, status int, outcome domain.LogOutcome, pattern string, headers map[string]string, body []byte) {
	id := pr.NetworkID
	if id == "" {
		id = pr.ID
	}
	m.buf.AppendWithBody(domain.NetworkLogEntry{
		RequestID:       domain.RequestID(id),
		URL:             pr.Request.URL,
		Method:          pr.Request.Method,
		ResourceType:    pr.Request.ResourceType,
		RequestHeaders:  pr.Request.Headers,
		Status:          status,
		ResponseHeaders: headers,
		Outcome:         outcome,
		MatchedRule:     pattern,
		Timestamp:       time.Now().UnixMilli(),
	}, body)
}

func mockResponse(mr *rules.MockRule) *traffic.Response {
	res := traffic.NewResponse()
	res.StatusCode = mr.Status
	for k, v := range mr.Headers {
		res.Headers.Set(k, v)
	}
	if mr.ContentType != "" {
		res.Headers.Set("Content-Type", mr.ContentType)
	}
	res.Body = mr.Body
	return res
}
