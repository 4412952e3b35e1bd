package session

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"webpen/internal/cookies"
	"webpen/pkg/domain"
)

const responseBodyCap = 100000

// Cookies returns the full jar for the session.
func (m *Manager) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}
	return br.Cookies(ctx)
}

// Cookie returns one cookie by name.
func (m *Manager) Cookie(ctx context.Context, name string) (domain.Cookie, error) {
	all, err := m.Cookies(ctx)
	if err != nil {
		return domain.Cookie{}, err
	}
	for _, c := range all {
		if c.Name == name {
			return c, nil
		}
	}
	return domain.Cookie{}, fmt.Errorf("%w: cookie %s", domain.ErrNotFound, name)
}

func (m *Manager) SetCookie(ctx context.Context, c domain.Cookie) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	if c.Name == "" {
		return fmt.Errorf("%w: cookie needs a name", domain.ErrCookieFormat)
	}
	if c.Domain == "" {
		// Default to the current page's host so the cookie lands
		// where the caller is looking.
		info, err := br.PageInfo(ctx)
		if err == nil {
			c.Domain = hostOf(info.URL)
		}
	}
	return br.SetCookie(ctx, c)
}

func (m *Manager) DeleteCookie(ctx context.Context, name string) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	return br.DeleteCookie(ctx, name)
}

func (m *Manager) ClearCookies(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	return br.ClearCookies(ctx)
}

// ExportCookies serializes the jar as json, netscape or header.
func (m *Manager) ExportCookies(ctx context.Context, format string) (string, error) {
	jar, err := m.Cookies(ctx)
	if err != nil {
		return "", err
	}
	return cookies.Export(jar, format)
}

// ImportCookies loads a JSON snapshot into the session, returning the
// number imported.
func (m *Manager) ImportCookies(ctx context.Context, blob string) (int, error) {
	br, err := m.requireRunning()
	if err != nil {
		return 0, err
	}
	jar, err := cookies.ImportJSON(blob)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range jar {
		if err := br.SetCookie(ctx, c); err != nil {
			return count, fmt.Errorf("import cookie %s: %w", c.Name, err)
		}
		count++
	}
	return count, nil
}

// MakeRequest issues an HTTP request from inside the page, so it carries
// the session's cookies, origin and fingerprint. The response body is
// capped.
func (m *Manager) MakeRequest(ctx context.Context, method, url string, headers map[string]string, body string) (domain.HTTPResponse, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.HTTPResponse{}, err
	}
	if method == "" {
		method = "GET"
	}

	opts := `{}`
	opts, _ = sjson.Set(opts, "method", method)
	opts, _ = sjson.Set(opts, "credentials", "include")
	if len(headers) > 0 {
		opts, _ = sjson.Set(opts, "headers", headers)
	}
	if body != "" {
		opts, _ = sjson.Set(opts, "body", body)
	}

	expr := fmt.Sprintf(`fetch(%q, %s).then(function(res) {
		return res.text().then(function(text) {
			var headers = {};
			res.headers.forEach(function(v, k) { headers[k] = v; });
			return {status: res.status, headers: headers, body: text.substring(0, %d)};
		});
	})`, url, opts, responseBodyCap)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return domain.HTTPResponse{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	parsed := gjson.ParseBytes(raw)
	out := domain.HTTPResponse{
		Status:  int(parsed.Get("status").Int()),
		Headers: make(map[string]string),
		Body:    parsed.Get("body").String(),
	}
	parsed.Get("headers").ForEach(func(k, v gjson.Result) bool {
		out.Headers[k.String()] = v.String()
		return true
	})
	return out, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
