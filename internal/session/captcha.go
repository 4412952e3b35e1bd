package session

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	ilog "webpen/internal/log"
	"webpen/pkg/domain"
)

// detectScript scans the page for captcha widget indicators. Detection
// order matters: the specific providers are checked before the generic
// challenge/puzzle heuristic.
const detectScript = `(function() {
	var result = {detected: false, type: 'none', indicators: []};

	if (document.querySelector('iframe[src*="challenges.cloudflare.com"]') ||
		document.querySelector('[data-sitekey]')) {
		result.detected = true;
		result.type = 'turnstile';
		result.indicators.push('cloudflare turnstile iframe or sitekey');
	}
	if (document.querySelector('.g-recaptcha') ||
		document.querySelector('iframe[src*="recaptcha"]') ||
		window.grecaptcha) {
		result.detected = true;
		result.type = 'recaptcha_v2';
		result.indicators.push('recaptcha element');
	}
	if (document.querySelector('.h-captcha') ||
		document.querySelector('iframe[src*="hcaptcha"]') ||
		window.hcaptcha) {
		result.detected = true;
		result.type = 'hcaptcha';
		result.indicators.push('hcaptcha element');
	}
	if (document.querySelector('[class*="challenge"]') ||
		document.querySelector('[class*="puzzle"]') ||
		document.querySelector('img[src*="captcha"]')) {
		result.detected = true;
		if (result.type === 'none') result.type = 'image_challenge';
		result.indicators.push('challenge or puzzle elements');
	}
	return result;
})()`

// clickTurnstileScript clicks the Turnstile checkbox when present. The
// checkbox lives inside a closed shadow root; clicking the host element
// is what the widget responds to.
const clickTurnstileScript = `(function() {
	var host = document.querySelector('iframe[src*="challenges.cloudflare.com"]');
	if (host && host.parentElement) {
		var box = host.getBoundingClientRect();
		if (box.width > 0) { host.parentElement.click(); return true; }
	}
	var widget = document.querySelector('[data-sitekey]');
	if (widget) { widget.click(); return true; }
	return false;
})()`

// DetectCaptchaType scans the current page for captcha indicators.
func (m *Manager) DetectCaptchaType(ctx context.Context) (domain.CaptchaType, []string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.CaptchaNone, nil, err
	}
	raw, err := br.Evaluate(ctx, detectScript)
	if err != nil {
		return domain.CaptchaNone, nil, err
	}
	return parseDetection(raw)
}

func parseDetection(raw []byte) (domain.CaptchaType, []string, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Get("detected").Bool() {
		return domain.CaptchaNone, nil, nil
	}
	var indicators []string
	for _, item := range parsed.Get("indicators").Array() {
		indicators = append(indicators, item.String())
	}
	return domain.ParseCaptchaType(parsed.Get("type").String()), indicators, nil
}

// EnableTurnstileBypass starts a background clicker that pokes the
// Turnstile checkbox every second. Success depends on IP reputation and
// fingerprint; this is not a solver.
func (m *Manager) EnableTurnstileBypass(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.bypassCancel != nil {
		m.mu.Unlock()
		return nil
	}
	loopCtx := m.loopCtx
	bypassCtx, cancel := context.WithCancel(loopCtx)
	m.bypassCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bypassCtx.Done():
				return
			case <-ticker.C:
				raw, err := br.Evaluate(bypassCtx, clickTurnstileScript)
				if err != nil {
					continue
				}
				if string(raw) == "true" {
					ilog.L().Debug().Msg("turnstile checkbox clicked")
				}
			}
		}
	}()
	return nil
}

// DisableTurnstileBypass stops the background clicker.
func (m *Manager) DisableTurnstileBypass() error {
	if _, err := m.requireRunning(); err != nil {
		return err
	}
	m.mu.Lock()
	cancel := m.bypassCancel
	m.bypassCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// HandleCaptchaAuto attempts the automatic path: for Turnstile, run the
// bypass clicker briefly and re-detect. Everything else needs a human;
// the caller decides whether to escalate to an intervention request.
func (m *Manager) HandleCaptchaAuto(ctx context.Context) (domain.CaptchaOutcome, error) {
	if _, err := m.requireRunning(); err != nil {
		return domain.CaptchaOutcome{}, err
	}

	typ, _, err := m.DetectCaptchaType(ctx)
	if err != nil {
		return domain.CaptchaOutcome{}, err
	}
	if typ == domain.CaptchaNone {
		return domain.CaptchaOutcome{Solved: true, Type: domain.CaptchaNone}, nil
	}
	if typ != domain.CaptchaTurnstile {
		return domain.CaptchaOutcome{Solved: false, Type: typ}, nil
	}

	if err := m.EnableTurnstileBypass(ctx); err != nil {
		return domain.CaptchaOutcome{Solved: false, Type: typ}, err
	}
	select {
	case <-ctx.Done():
		m.DisableTurnstileBypass()
		return domain.CaptchaOutcome{}, ctx.Err()
	case <-time.After(5 * time.Second):
	}
	if err := m.DisableTurnstileBypass(); err != nil {
		return domain.CaptchaOutcome{Solved: false, Type: typ}, err
	}

	after, _, err := m.DetectCaptchaType(ctx)
	if err != nil {
		return domain.CaptchaOutcome{Solved: false, Type: typ}, err
	}
	if after == domain.CaptchaNone {
		return domain.CaptchaOutcome{Solved: true, Type: domain.CaptchaTurnstile}, nil
	}
	return domain.CaptchaOutcome{Solved: false, Type: after}, nil
}

// RequestIntervention registers a pending ask for human help, tagged
// with the page the automation is stuck on.
func (m *Manager) RequestIntervention(ctx context.Context, captchaType, message string) (domain.Intervention, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.Intervention{}, err
	}
	url := ""
	if info, err := br.PageInfo(ctx); err == nil {
		url = info.URL
	}
	req := m.reg.Create(domain.ParseCaptchaType(captchaType), message, url)
	ilog.L().Info().Str("interventionId", string(req.ID)).Str("type", string(req.CaptchaType)).Msg("human intervention requested")
	return req, nil
}

// PendingInterventions lists unresolved requests, oldest first.
func (m *Manager) PendingInterventions() ([]domain.Intervention, error) {
	if _, err := m.requireRunning(); err != nil {
		return nil, err
	}
	return m.reg.Pending(), nil
}

// ResolveIntervention marks one request resolved and wakes every waiter.
func (m *Manager) ResolveIntervention(id domain.InterventionID, resolution string) error {
	if _, err := m.requireRunning(); err != nil {
		return err
	}
	return m.reg.Resolve(id, resolution)
}

// WaitForResolution blocks the calling invocation only. It never touches
// the browser and never holds the session lock, so other operations
// proceed while a human works.
func (m *Manager) WaitForResolution(ctx context.Context, id domain.InterventionID, timeout time.Duration) (string, error) {
	if _, err := m.requireRunning(); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return m.reg.Wait(ctx, id, timeout)
}
