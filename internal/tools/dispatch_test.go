package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"webpen/internal/browser"
	"webpen/internal/session"
	"webpen/pkg/domain"
)

// stubBrowser overrides only what the dispatched ops touch; anything
// else panics, which is exactly what a test should do.
type stubBrowser struct {
	browser.Browser
	crashCh chan error
}

func (s *stubBrowser) Start(context.Context) error { return nil }
func (s *stubBrowser) Stop(context.Context) error  { return nil }
func (s *stubBrowser) Crashed() <-chan error       { return s.crashCh }
func (s *stubBrowser) PageInfo(context.Context) (domain.PageInfo, error) {
	return domain.PageInfo{URL: "https://target.test", Title: "t"}, nil
}
func (s *stubBrowser) Cookies(context.Context) ([]domain.Cookie, error) {
	return []domain.Cookie{{Name: "sid", Value: "v"}}, nil
}

func newDispatcher() *Dispatcher {
	stub := &stubBrowser{crashCh: make(chan error, 1)}
	mgr := session.NewManager(func(domain.SessionConfig) browser.Browser { return stub }, nil)
	return New(mgr, domain.SessionConfig{DevToolsPort: 9222})
}

func TestUnknownOperation(t *testing.T) {
	d := newDispatcher()
	_, err := d.Dispatch(context.Background(), "self_destruct", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEveryOperationRoutes(t *testing.T) {
	// Without a running session every routed op must fail the gate,
	// not fall through to unknown-op.
	ops := []string{
		"close", "navigate", "go_back", "go_forward", "refresh", "get_info",
		"find_element", "find_elements", "get_text", "get_html", "click",
		"type", "scroll", "get_source", "wait_for",
		"execute", "get_console_logs", "get_global_vars",
		"get_local_storage", "set_local_storage", "clear_local_storage",
		"get_session_storage", "set_session_storage", "get_forms", "get_links",
		"enable_monitoring", "disable_monitoring", "get_logs",
		"enable_interception", "disable_interception", "setup_handler",
		"get_cookies", "get_cookie", "set_cookie", "delete_cookie",
		"clear_cookies", "export_cookies", "import_cookies", "make_request",
		"enable_turnstile_bypass", "disable_turnstile_bypass",
		"detect_captcha_type", "handle_captcha_auto",
		"request_human_intervention", "get_pending_interventions",
		"resolve_intervention", "wait_for_resolution",
		"screenshot", "get_viewport", "set_viewport", "get_performance",
		"highlight",
	}
	d := newDispatcher()
	for _, op := range ops {
		_, err := d.Dispatch(context.Background(), op, []byte(`{"url":"https://x.test","cookies":"[]"}`))
		assert.ErrorIs(t, err, domain.ErrNoActiveSession, "op %s", op)
	}
}

func TestLaunchThenCookieOps(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "launch", []byte(`{"headless": true}`))
	require.NoError(t, err)
	m, ok := res.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, m["sessionId"])

	got, err := d.Dispatch(ctx, "get_cookies", nil)
	require.NoError(t, err)
	jar, ok := got.([]domain.Cookie)
	require.True(t, ok)
	require.Len(t, jar, 1)
	assert.Equal(t, "sid", jar[0].Name)

	_, err = d.Dispatch(ctx, "launch", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	_, err = d.Dispatch(ctx, "close", nil)
	require.NoError(t, err)
}

func TestDecodeRuleSetObjectForm(t *testing.T) {
	rs := decodeRuleSet([]byte(`{
		"block": ["ads", "*.doubleclick.net/*"],
		"mock_responses": {
			"*/api/flags": {"status": 200, "content_type": "application/json", "body": {"on": false}},
			"*/api/user": {"body": "denied"}
		},
		"modify_headers": {"X-Forwarded-For": "127.0.0.1"}
	}`))

	assert.Equal(t, []string{"ads", "*.doubleclick.net/*"}, rs.Block)
	require.Len(t, rs.Mock, 2)
	// Document order preserved: first-registered wins downstream.
	assert.Equal(t, "*/api/flags", rs.Mock[0].Pattern)
	assert.Equal(t, 200, rs.Mock[0].Status)
	assert.Equal(t, "application/json", rs.Mock[0].ContentType)
	assert.JSONEq(t, `{"on": false}`, string(rs.Mock[0].Body))
	assert.Equal(t, "*/api/user", rs.Mock[1].Pattern)
	assert.Equal(t, "denied", string(rs.Mock[1].Body))
	assert.Equal(t, map[string]string{"X-Forwarded-For": "127.0.0.1"}, rs.ModifyHeaders)
}

func TestDecodeRuleSetArrayForm(t *testing.T) {
	rs := decodeRuleSet([]byte(`{
		"mockResponses": [
			{"pattern": "*/a", "status": 503, "headers": {"Retry-After": "60"}},
			{"pattern": "*/b"}
		]
	}`))

	require.Len(t, rs.Mock, 2)
	assert.Equal(t, "*/a", rs.Mock[0].Pattern)
	assert.Equal(t, 503, rs.Mock[0].Status)
	assert.Equal(t, map[string]string{"Retry-After": "60"}, rs.Mock[0].Headers)
	assert.Equal(t, "*/b", rs.Mock[1].Pattern)
}

func TestDecodeRuleSetBlockPatternSpellings(t *testing.T) {
	rs := decodeRuleSet([]byte(`{"block_patterns": ["ads", "*.tracker.test/*"]}`))
	assert.Equal(t, []string{"ads", "*.tracker.test/*"}, rs.Block)

	rs = decodeRuleSet([]byte(`{"blockPatterns": ["ads"]}`))
	assert.Equal(t, []string{"ads"}, rs.Block)

	// camelCase wins when both are present.
	rs = decodeRuleSet([]byte(`{"blockPatterns": ["a"], "block": ["b"]}`))
	assert.Equal(t, []string{"a"}, rs.Block)
}

func TestCanonicalArgsAcceptsSnakeCase(t *testing.T) {
	out := canonicalArgs([]byte(`{"request_id": "r-1", "filter_url": "api", "clear_first": true}`))
	assert.Equal(t, "r-1", gjson.GetBytes(out, "requestId").String())
	assert.Equal(t, "api", gjson.GetBytes(out, "filterUrl").String())
	assert.True(t, gjson.GetBytes(out, "clearFirst").Bool())

	// An explicit camelCase key is never overwritten by its snake twin.
	out = canonicalArgs([]byte(`{"requestId": "keep", "request_id": "drop"}`))
	assert.Equal(t, "keep", gjson.GetBytes(out, "requestId").String())
}

func TestResolveInterventionAcceptsSnakeCaseAndPayload(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()
	_, err := d.Dispatch(ctx, "launch", nil)
	require.NoError(t, err)
	defer d.Dispatch(ctx, "close", nil)

	res, err := d.Dispatch(ctx, "request_human_intervention",
		[]byte(`{"captcha_type": "turnstile", "message": "solve"}`))
	require.NoError(t, err)
	req, ok := res.(domain.Intervention)
	require.True(t, ok)

	_, err = d.Dispatch(ctx, "resolve_intervention",
		[]byte(`{"request_id": "`+string(req.ID)+`", "payload": "token-xyz"}`))
	require.NoError(t, err)

	got, err := d.Dispatch(ctx, "wait_for_resolution",
		[]byte(`{"request_id": "`+string(req.ID)+`", "timeout": 1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"resolution": "token-xyz"}, got)
}

func TestApplySelectorKind(t *testing.T) {
	// An explicit xpath kind gains the marker the resolver keys on.
	assert.Equal(t, `(div[@id="x"])`, applySelectorKind(`div[@id="x"]`, "xpath"))
	// Already-marked expressions and css selectors pass through.
	assert.Equal(t, "//div", applySelectorKind("//div", "xpath"))
	assert.Equal(t, "(//div)[1]", applySelectorKind("(//div)[1]", "xpath"))
	assert.Equal(t, "div.card", applySelectorKind("div.card", "css"))
	assert.Equal(t, "div.card", applySelectorKind("div.card", ""))
}

func TestDecodeRuleSetEmpty(t *testing.T) {
	rs := decodeRuleSet(nil)
	assert.Empty(t, rs.Block)
	assert.Empty(t, rs.Mock)
	assert.Empty(t, rs.ModifyHeaders)
}
