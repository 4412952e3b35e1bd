package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"webpen/internal/browser"
	"webpen/pkg/domain"
)

// Screenshot captures the page as PNG. A non-empty selector captures
// only that element's box. When path is empty a timestamped file under
// the temp dir is used; the written path is returned.
func (m *Manager) Screenshot(ctx context.Context, selector, path string) (string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return "", err
	}

	var clip *browser.Clip
	if selector != "" {
		clip, err = m.elementClip(ctx, selector)
		if err != nil {
			return "", err
		}
	}

	data, err := br.Screenshot(ctx, clip)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = filepath.Join(os.TempDir(),
			fmt.Sprintf("webpen_screenshot_%s.png", time.Now().Format("20060102_150405")))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (m *Manager) elementClip(ctx context.Context, selector string) (*browser.Clip, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(`(function() {
		%s
		var el = __q(%q);
		if (!el) return null;
		var box = el.getBoundingClientRect();
		return {x: box.x + window.scrollX, y: box.y + window.scrollY, width: box.width, height: box.height};
	})()`, querySnippet, selector)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
	}
	parsed := gjson.ParseBytes(raw)
	return &browser.Clip{
		X:      parsed.Get("x").Float(),
		Y:      parsed.Get("y").Float(),
		Width:  parsed.Get("width").Float(),
		Height: parsed.Get("height").Float(),
	}, nil
}

// Viewport reports the page's inner dimensions.
func (m *Manager) Viewport(ctx context.Context) (domain.Viewport, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.Viewport{}, err
	}
	raw, err := br.Evaluate(ctx, `({width: window.innerWidth, height: window.innerHeight})`)
	if err != nil {
		return domain.Viewport{}, err
	}
	parsed := gjson.ParseBytes(raw)
	return domain.Viewport{
		Width:  int(parsed.Get("width").Int()),
		Height: int(parsed.Get("height").Int()),
	}, nil
}

// SetViewport overrides the device metrics.
func (m *Manager) SetViewport(ctx context.Context, width, height int) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", domain.ErrInvalidState, width, height)
	}
	return br.SetViewport(ctx, width, height)
}

// Performance merges protocol metrics with the page's navigation timing.
func (m *Manager) Performance(ctx context.Context) (map[string]float64, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}

	out, err := br.Metrics(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := br.Evaluate(ctx, `(function() {
		var nav = performance.getEntriesByType('navigation')[0];
		if (!nav) return {};
		return {
			domContentLoaded: nav.domContentLoadedEventEnd - nav.domContentLoadedEventStart,
			loadComplete: nav.loadEventEnd - nav.loadEventStart,
			domInteractive: nav.domInteractive,
			resources: performance.getEntriesByType('resource').length
		};
	})()`)
	if err == nil {
		gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = v.Float()
			return true
		})
	}
	return out, nil
}

// Highlight outlines every match, returning the count.
func (m *Manager) Highlight(ctx context.Context, selector, color string) (int, error) {
	br, err := m.requireRunning()
	if err != nil {
		return 0, err
	}
	if color == "" {
		color = "red"
	}
	expr := fmt.Sprintf(`(function() {
		var els = document.querySelectorAll(%q);
		els.forEach(function(el) { el.style.outline = '3px solid ' + %q; });
		return els.length;
	})()`, selector, color)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return 0, err
	}
	return int(gjson.ParseBytes(raw).Int()), nil
}
