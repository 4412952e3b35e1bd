// Package tools exposes the session manager as a closed, name-addressed
// operation surface. Arguments arrive as loose JSON and are decoded
// tolerantly; results are plain values the transport layer serializes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"webpen/internal/rules"
	"webpen/pkg/api"
	"webpen/pkg/domain"
)

// Dispatcher routes operation calls to the session service. defaults
// fills launch fields the caller leaves out (binary path, devtools
// port, page load timeout).
type Dispatcher struct {
	mgr      api.Service
	defaults domain.SessionConfig
}

func New(mgr api.Service, defaults domain.SessionConfig) *Dispatcher {
	return &Dispatcher{mgr: mgr, defaults: defaults}
}

type launchArgs struct {
	Headless          *bool    `json:"headless"`
	Proxy             string   `json:"proxy"`
	UserAgent         string   `json:"userAgent"`
	Incognito         bool     `json:"incognito"`
	WindowWidth       int      `json:"windowWidth"`
	WindowHeight      int      `json:"windowHeight"`
	BlockPatterns     []string `json:"blockPatterns"`
	BinaryPath        string   `json:"binaryPath"`
	DevToolsPort      int      `json:"devToolsPort"`
	PageLoadTimeoutMS int      `json:"pageLoadTimeoutMS"`
}

type selectorArgs struct {
	Selector string `json:"selector"`
	Kind     string `json:"selectorKind"` // "css" or "xpath"; inferred when empty
	Timeout  int    `json:"timeout"`      // seconds
}

type typeArgs struct {
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	ClearFirst bool   `json:"clearFirst"`
}

type scrollArgs struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

type storageArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type makeRequestArgs struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type interventionArgs struct {
	CaptchaType string `json:"captchaType"`
	Message     string `json:"message"`
	RequestID   string `json:"requestId"`
	Resolution  string `json:"resolution"`
	Payload     string `json:"payload"` // alias for resolution
	Timeout     int    `json:"timeout"` // seconds
}

type screenshotArgs struct {
	Selector string `json:"selector"`
	Path     string `json:"path"`
}

type viewportArgs struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type highlightArgs struct {
	Selector string `json:"selector"`
	Color    string `json:"color"`
}

// Dispatch executes one named operation. Unknown names fail with an
// ErrNotFound-kinded error; the surface is closed.
func (d *Dispatcher) Dispatch(ctx context.Context, op string, args []byte) (any, error) {
	args = canonicalArgs(args)
	switch op {
	case "launch":
		return d.launch(ctx, args)
	case "close":
		return okResult(), d.mgr.Close(ctx)

	case "navigate":
		url := gjson.GetBytes(args, "url").String()
		if url == "" {
			return nil, fmt.Errorf("navigate: url is required")
		}
		return d.mgr.Navigate(ctx, url)
	case "go_back":
		return okResult(), d.mgr.GoBack(ctx)
	case "go_forward":
		return okResult(), d.mgr.GoForward(ctx)
	case "refresh":
		return okResult(), d.mgr.Refresh(ctx)
	case "get_info":
		return d.mgr.PageInfo(ctx)

	case "find_element":
		var a selectorArgs
		decode(args, &a)
		return d.mgr.FindElement(ctx, applySelectorKind(a.Selector, a.Kind), seconds(a.Timeout))
	case "find_elements":
		var a selectorArgs
		decode(args, &a)
		return d.mgr.FindElements(ctx, a.Selector)
	case "get_text":
		var a selectorArgs
		decode(args, &a)
		return d.mgr.Text(ctx, a.Selector)
	case "get_html":
		var a selectorArgs
		decode(args, &a)
		return d.mgr.HTML(ctx, a.Selector)
	case "click":
		var a selectorArgs
		decode(args, &a)
		return okResult(), d.mgr.Click(ctx, a.Selector)
	case "type":
		var a typeArgs
		decode(args, &a)
		return okResult(), d.mgr.Type(ctx, a.Selector, a.Text, a.ClearFirst)
	case "scroll":
		var a scrollArgs
		decode(args, &a)
		return okResult(), d.mgr.Scroll(ctx, a.Direction, a.Amount)
	case "get_source":
		src, truncated, err := d.mgr.Source(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"source": src, "truncated": truncated}, nil
	case "wait_for":
		var a selectorArgs
		decode(args, &a)
		return d.mgr.WaitFor(ctx, applySelectorKind(a.Selector, a.Kind), seconds(a.Timeout))

	case "execute":
		script := gjson.GetBytes(args, "script").String()
		raw, err := d.mgr.Execute(ctx, script)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	case "get_console_logs":
		return d.mgr.ConsoleLogs(ctx)
	case "get_global_vars":
		return d.mgr.GlobalVars(ctx)
	case "get_local_storage":
		return d.mgr.LocalStorage(ctx)
	case "set_local_storage":
		var a storageArgs
		decode(args, &a)
		return okResult(), d.mgr.SetLocalStorage(ctx, a.Key, a.Value)
	case "clear_local_storage":
		return okResult(), d.mgr.ClearLocalStorage(ctx)
	case "get_session_storage":
		return d.mgr.SessionStorage(ctx)
	case "set_session_storage":
		var a storageArgs
		decode(args, &a)
		return okResult(), d.mgr.SetSessionStorage(ctx, a.Key, a.Value)
	case "get_forms":
		return d.mgr.Forms(ctx)
	case "get_links":
		return d.mgr.Links(ctx)

	case "enable_monitoring":
		return okResult(), d.mgr.EnableMonitoring(ctx)
	case "disable_monitoring":
		return okResult(), d.mgr.DisableMonitoring()
	case "get_logs":
		return d.mgr.Logs(gjson.GetBytes(args, "filterUrl").String())
	case "get_response_body":
		id := gjson.GetBytes(args, "requestId").String()
		body, err := d.mgr.ResponseBody(ctx, domain.RequestID(id))
		if err != nil {
			return nil, err
		}
		return map[string]any{"requestId": id, "body": string(body)}, nil
	case "enable_interception":
		return okResult(), d.mgr.EnableInterception(ctx)
	case "disable_interception":
		return okResult(), d.mgr.DisableInterception(ctx)
	case "setup_handler":
		return okResult(), d.mgr.SetupHandler(ctx, decodeRuleSet(args))

	case "get_cookies":
		return d.mgr.Cookies(ctx)
	case "get_cookie":
		return d.mgr.Cookie(ctx, gjson.GetBytes(args, "name").String())
	case "set_cookie":
		var c domain.Cookie
		decode(args, &c)
		return okResult(), d.mgr.SetCookie(ctx, c)
	case "delete_cookie":
		return okResult(), d.mgr.DeleteCookie(ctx, gjson.GetBytes(args, "name").String())
	case "clear_cookies":
		return okResult(), d.mgr.ClearCookies(ctx)
	case "export_cookies":
		blob, err := d.mgr.ExportCookies(ctx, gjson.GetBytes(args, "format").String())
		if err != nil {
			return nil, err
		}
		return map[string]any{"cookies": blob}, nil
	case "import_cookies":
		blob := gjson.GetBytes(args, "cookies")
		payload := blob.Raw
		if blob.Type == gjson.String {
			// The snapshot may arrive double-encoded.
			payload = blob.String()
		}
		n, err := d.mgr.ImportCookies(ctx, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"imported": n}, nil
	case "make_request":
		var a makeRequestArgs
		decode(args, &a)
		if a.URL == "" {
			return nil, fmt.Errorf("make_request: url is required")
		}
		return d.mgr.MakeRequest(ctx, a.Method, a.URL, a.Headers, a.Body)

	case "enable_turnstile_bypass":
		if err := d.mgr.EnableTurnstileBypass(ctx); err != nil {
			return nil, err
		}
		// Optional settle time for the background clicker to land.
		wait := gjson.GetBytes(args, "waitSeconds").Int()
		if wait > 0 {
			if wait > 30 {
				wait = 30
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(wait) * time.Second):
			}
		}
		return okResult(), nil
	case "disable_turnstile_bypass":
		return okResult(), d.mgr.DisableTurnstileBypass()
	case "detect_type", "detect_captcha_type":
		typ, indicators, err := d.mgr.DetectCaptchaType(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"detected":   typ != domain.CaptchaNone,
			"type":       typ,
			"indicators": indicators,
		}, nil
	case "handle_auto", "handle_captcha_auto":
		return d.mgr.HandleCaptchaAuto(ctx)
	case "request_human_intervention":
		var a interventionArgs
		decode(args, &a)
		return d.mgr.RequestIntervention(ctx, a.CaptchaType, a.Message)
	case "get_pending_interventions":
		return d.mgr.PendingInterventions()
	case "resolve_intervention":
		var a interventionArgs
		decode(args, &a)
		if a.Resolution == "" {
			a.Resolution = a.Payload
		}
		if a.Resolution == "" {
			a.Resolution = "solved"
		}
		return okResult(), d.mgr.ResolveIntervention(domain.InterventionID(a.RequestID), a.Resolution)
	case "wait_for_resolution":
		var a interventionArgs
		decode(args, &a)
		payload, err := d.mgr.WaitForResolution(ctx, domain.InterventionID(a.RequestID), seconds(a.Timeout))
		if err != nil {
			return nil, err
		}
		return map[string]any{"resolution": payload}, nil

	case "screenshot":
		var a screenshotArgs
		decode(args, &a)
		path, err := d.mgr.Screenshot(ctx, a.Selector, a.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": path}, nil
	case "get_viewport":
		return d.mgr.Viewport(ctx)
	case "set_viewport":
		var a viewportArgs
		decode(args, &a)
		return okResult(), d.mgr.SetViewport(ctx, a.Width, a.Height)
	case "get_performance":
		return d.mgr.Performance(ctx)
	case "highlight":
		var a highlightArgs
		decode(args, &a)
		n, err := d.mgr.Highlight(ctx, a.Selector, a.Color)
		if err != nil {
			return nil, err
		}
		return map[string]any{"highlighted": n}, nil
	}

	return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrNotFound, op)
}

func (d *Dispatcher) launch(ctx context.Context, args []byte) (any, error) {
	var a launchArgs
	decode(args, &a)
	cfg := domain.SessionConfig{
		Headless:          a.Headless == nil || *a.Headless,
		Proxy:             a.Proxy,
		UserAgent:         a.UserAgent,
		Incognito:         a.Incognito,
		WindowWidth:       a.WindowWidth,
		WindowHeight:      a.WindowHeight,
		BlockPatterns:     a.BlockPatterns,
		BinaryPath:        a.BinaryPath,
		DevToolsPort:      a.DevToolsPort,
		PageLoadTimeoutMS: a.PageLoadTimeoutMS,
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = d.defaults.BinaryPath
	}
	if cfg.DevToolsPort == 0 {
		cfg.DevToolsPort = d.defaults.DevToolsPort
	}
	if cfg.PageLoadTimeoutMS == 0 {
		cfg.PageLoadTimeoutMS = d.defaults.PageLoadTimeoutMS
	}
	id, err := d.mgr.Launch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": id}, nil
}

// decodeRuleSet builds a rule set from loose JSON. mock_responses may be
// an object keyed by pattern or an array of rule objects; document order
// is preserved either way so first-match stays deterministic.
func decodeRuleSet(args []byte) rules.RuleSet {
	var rs rules.RuleSet
	parsed := gjson.ParseBytes(args)

	blocks := parsed.Get("blockPatterns")
	if !blocks.Exists() {
		blocks = parsed.Get("block_patterns")
	}
	if !blocks.Exists() {
		blocks = parsed.Get("block")
	}
	for _, p := range blocks.Array() {
		rs.Block = append(rs.Block, p.String())
	}

	mocks := parsed.Get("mockResponses")
	if !mocks.Exists() {
		mocks = parsed.Get("mock_responses")
	}
	appendMock := func(pattern string, body gjson.Result) {
		rule := rules.MockRule{
			Pattern:     pattern,
			Status:      int(body.Get("status").Int()),
			ContentType: body.Get("contentType").String(),
		}
		if rule.ContentType == "" {
			rule.ContentType = body.Get("content_type").String()
		}
		if h := body.Get("headers"); h.IsObject() {
			rule.Headers = make(map[string]string)
			h.ForEach(func(k, v gjson.Result) bool {
				rule.Headers[k.String()] = v.String()
				return true
			})
		}
		if b := body.Get("body"); b.Exists() {
			if b.Type == gjson.String {
				rule.Body = []byte(b.String())
			} else {
				rule.Body = []byte(b.Raw)
			}
		}
		rs.Mock = append(rs.Mock, rule)
	}
	switch {
	case mocks.IsObject():
		mocks.ForEach(func(pattern, body gjson.Result) bool {
			appendMock(pattern.String(), body)
			return true
		})
	case mocks.IsArray():
		for _, item := range mocks.Array() {
			appendMock(item.Get("pattern").String(), item)
		}
	}

	modify := parsed.Get("modifyHeaders")
	if !modify.Exists() {
		modify = parsed.Get("modify_headers")
	}
	if modify.IsObject() {
		rs.ModifyHeaders = make(map[string]string)
		modify.ForEach(func(k, v gjson.Result) bool {
			rs.ModifyHeaders[k.String()] = v.String()
			return true
		})
	}
	return rs
}

// canonicalArgs copies snake_case argument keys to their camelCase form
// so both spellings are accepted uniformly across the surface. Existing
// camelCase keys win.
func canonicalArgs(args []byte) []byte {
	if len(args) == 0 {
		return args
	}
	out := args
	gjson.ParseBytes(args).ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		camel := snakeToCamel(key)
		if camel == key || gjson.GetBytes(out, camel).Exists() {
			return true
		}
		if b, err := sjson.SetRawBytes(out, camel, []byte(v.Raw)); err == nil {
			out = b
		}
		return true
	})
	return out
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// applySelectorKind forces the XPath resolver when the caller names the
// kind explicitly. Parenthesizing is semantics-preserving and gives a
// relative expression the leading marker the resolver keys on.
func applySelectorKind(selector, kind string) string {
	if strings.EqualFold(kind, "xpath") &&
		!strings.HasPrefix(selector, "/") && !strings.HasPrefix(selector, "(") {
		return "(" + selector + ")"
	}
	return selector
}

// decode fills a typed arg struct, tolerating absent or empty payloads.
func decode(args []byte, into any) {
	if len(args) == 0 {
		return
	}
	_ = json.Unmarshal(args, into)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func okResult() map[string]any {
	return map[string]any{"ok": true}
}
