// Package api is the embedding surface: one interface over the session
// manager so hosts depend on a contract instead of the implementation.
package api

import (
	"context"
	"time"

	"webpen/internal/browser"
	"webpen/internal/rules"
	"webpen/internal/session"
	"webpen/internal/storage"
	"webpen/pkg/domain"
)

// Service is the full operation surface of one managed browser session.
type Service interface {
	// Lifecycle.
	Launch(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error)
	Close(ctx context.Context) error
	State() (domain.State, domain.SessionID)

	// Navigation.
	Navigate(ctx context.Context, url string) (domain.PageInfo, error)
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Refresh(ctx context.Context) error
	PageInfo(ctx context.Context) (domain.PageInfo, error)

	// DOM.
	FindElement(ctx context.Context, selector string, timeout time.Duration) (domain.ElementRef, error)
	FindElements(ctx context.Context, selector string) ([]domain.ElementRef, error)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context, selector string) (string, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, clearFirst bool) error
	Scroll(ctx context.Context, direction string, amount int) error
	Source(ctx context.Context) (string, bool, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (domain.ElementRef, error)

	// Scripting.
	Execute(ctx context.Context, script string) ([]byte, error)
	ConsoleLogs(ctx context.Context) ([]domain.ConsoleEntry, error)
	GlobalVars(ctx context.Context) (map[string]string, error)
	LocalStorage(ctx context.Context) (map[string]string, error)
	SetLocalStorage(ctx context.Context, key, value string) error
	ClearLocalStorage(ctx context.Context) error
	SessionStorage(ctx context.Context) (map[string]string, error)
	SetSessionStorage(ctx context.Context, key, value string) error
	Forms(ctx context.Context) ([]domain.Form, error)
	Links(ctx context.Context) ([]map[string]string, error)

	// Network.
	EnableMonitoring(ctx context.Context) error
	DisableMonitoring() error
	Logs(filterURL string) ([]domain.NetworkLogEntry, error)
	ResponseBody(ctx context.Context, id domain.RequestID) ([]byte, error)
	EnableInterception(ctx context.Context) error
	DisableInterception(ctx context.Context) error
	SetupHandler(ctx context.Context, rs rules.RuleSet) error

	// Cookies.
	Cookies(ctx context.Context) ([]domain.Cookie, error)
	Cookie(ctx context.Context, name string) (domain.Cookie, error)
	SetCookie(ctx context.Context, c domain.Cookie) error
	DeleteCookie(ctx context.Context, name string) error
	ClearCookies(ctx context.Context) error
	ExportCookies(ctx context.Context, format string) (string, error)
	ImportCookies(ctx context.Context, blob string) (int, error)
	MakeRequest(ctx context.Context, method, url string, headers map[string]string, body string) (domain.HTTPResponse, error)

	// Captcha and human intervention.
	DetectCaptchaType(ctx context.Context) (domain.CaptchaType, []string, error)
	EnableTurnstileBypass(ctx context.Context) error
	DisableTurnstileBypass() error
	HandleCaptchaAuto(ctx context.Context) (domain.CaptchaOutcome, error)
	RequestIntervention(ctx context.Context, captchaType, message string) (domain.Intervention, error)
	PendingInterventions() ([]domain.Intervention, error)
	ResolveIntervention(id domain.InterventionID, resolution string) error
	WaitForResolution(ctx context.Context, id domain.InterventionID, timeout time.Duration) (string, error)

	// Debugging.
	Screenshot(ctx context.Context, selector, path string) (string, error)
	Viewport(ctx context.Context) (domain.Viewport, error)
	SetViewport(ctx context.Context, width, height int) error
	Performance(ctx context.Context) (map[string]float64, error)
	Highlight(ctx context.Context, selector, color string) (int, error)
}

var _ Service = (*session.Manager)(nil)

// NewService builds the default service: real Chrome collaborator,
// optional exchange archive.
func NewService(archive *storage.Archive) Service {
	return session.NewManager(browser.NewChrome, archive)
}
