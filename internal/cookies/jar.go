package cookies

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"webpen/pkg/domain"
)

// Format names accepted by export_cookies.
const (
	FormatJSON     = "json"
	FormatNetscape = "netscape"
	FormatHeader   = "header"
)

// Export serializes the jar in the requested format.
func Export(cs []domain.Cookie, format string) (string, error) {
	switch format {
	case FormatJSON, "":
		return ExportJSON(cs)
	case FormatNetscape:
		return ExportNetscape(cs), nil
	case FormatHeader:
		return ExportHeader(cs), nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", domain.ErrCookieFormat, format)
	}
}

func ExportJSON(cs []domain.Cookie) (string, error) {
	raw, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode cookies: %w", err)
	}
	return string(raw), nil
}

// ExportNetscape renders the tab-separated legacy cookie-file format:
// domain, include-subdomains, path, secure, expiry, name, value.
func ExportNetscape(cs []domain.Cookie) string {
	lines := make([]string, 0, len(cs))
	for _, c := range cs {
		domainField := c.Domain
		if domainField != "" && !strings.HasPrefix(domainField, ".") {
			domainField = "." + domainField
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		lines = append(lines, fmt.Sprintf("%s\tTRUE\t%s\t%s\t%d\t%s\t%s",
			domainField, path, secure, int64(c.Expires), c.Name, c.Value))
	}
	return strings.Join(lines, "\n")
}

// ExportHeader renders a single Cookie: header value.
func ExportHeader(cs []domain.Cookie) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// ImportJSON parses a cookie snapshot. It accepts an array of cookie
// objects or a single object.
func ImportJSON(blob string) ([]domain.Cookie, error) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid JSON", domain.ErrCookieFormat)
	}
	parsed := gjson.Parse(trimmed)

	var items []gjson.Result
	switch {
	case parsed.IsArray():
		items = parsed.Array()
	case parsed.IsObject():
		items = []gjson.Result{parsed}
	default:
		return nil, fmt.Errorf("%w: expected cookie object or array", domain.ErrCookieFormat)
	}

	out := make([]domain.Cookie, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: entry %d is not an object", domain.ErrCookieFormat, i)
		}
		name := item.Get("name").String()
		if name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", domain.ErrCookieFormat, i)
		}
		out = append(out, domain.Cookie{
			Name:     name,
			Value:    item.Get("value").String(),
			Domain:   item.Get("domain").String(),
			Path:     item.Get("path").String(),
			Expires:  item.Get("expires").Float(),
			Secure:   item.Get("secure").Bool(),
			HTTPOnly: item.Get("httpOnly").Bool(),
			SameSite: item.Get("sameSite").String(),
		})
	}
	return out, nil
}
