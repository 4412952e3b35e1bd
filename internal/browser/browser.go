package browser

import (
	"context"

	"webpen/pkg/domain"
	"webpen/pkg/traffic"
)

// PausedRequest is one outgoing request held at the interception point,
// awaiting a verdict.
type PausedRequest struct {
	ID        string // interception id, used for the verdict call
	NetworkID string // network-layer request id, when known
	Request   traffic.Request
}

// NetworkEvent is one observed exchange summary, emitted on response
// receipt. Bodies are retrieved separately via ResponseBody.
type NetworkEvent struct {
	RequestID       string
	URL             string
	Method          string
	ResourceType    string
	Status          int
	RequestHeaders  traffic.Header
	ResponseHeaders traffic.Header
	Timestamp       int64
}

// Clip bounds a screenshot to a page region.
type Clip struct {
	X, Y, Width, Height float64
}

// Browser is the narrow contract the session manager drives. The real
// implementation speaks the DevTools protocol; tests substitute a fake.
type Browser interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Crashed yields once if the underlying browser dies unexpectedly.
	Crashed() <-chan error

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error
	PageInfo(ctx context.Context) (domain.PageInfo, error)

	// Evaluate runs an expression in the page and returns the
	// JSON-encoded result value.
	Evaluate(ctx context.Context, expr string) ([]byte, error)
	InsertText(ctx context.Context, text string) error
	ConsoleLogs(ctx context.Context) ([]domain.ConsoleEntry, error)

	Cookies(ctx context.Context) ([]domain.Cookie, error)
	SetCookie(ctx context.Context, c domain.Cookie) error
	DeleteCookie(ctx context.Context, name string) error
	ClearCookies(ctx context.Context) error

	Screenshot(ctx context.Context, clip *Clip) ([]byte, error)
	SetViewport(ctx context.Context, width, height int) error
	Metrics(ctx context.Context) (map[string]float64, error)

	EnableNetwork(ctx context.Context) error
	NetworkEvents() <-chan NetworkEvent
	ResponseBody(ctx context.Context, requestID string) ([]byte, error)

	EnableFetch(ctx context.Context) error
	DisableFetch(ctx context.Context) error
	FetchEvents() <-chan PausedRequest
	ContinueRequest(ctx context.Context, id string, headers traffic.Header) error
	FailRequest(ctx context.Context, id string) error
	FulfillRequest(ctx context.Context, id string, res *traffic.Response) error
}

// Factory builds a collaborator for one session.
type Factory func(cfg domain.SessionConfig) Browser
