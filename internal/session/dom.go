package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"webpen/pkg/domain"
)

const (
	pollInterval  = 150 * time.Millisecond
	defaultFindTO = 10 * time.Second
	htmlCap       = 5000
	sourceCap     = 50000
)

// querySnippet resolves a selector to an element. XPath expressions are
// recognized by their leading slash or parenthesis, everything else is
// treated as CSS.
const querySnippet = `function __q(s) {
	if (s.startsWith('/') || s.startsWith('(')) {
		var r = document.evaluate(s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
		return r.singleNodeValue;
	}
	return document.querySelector(s);
}`

// FindElement locates one element, polling until the timeout elapses.
func (m *Manager) FindElement(ctx context.Context, selector string, timeout time.Duration) (domain.ElementRef, error) {
	br, err := m.requireRunning()
	if err != nil {
		return domain.ElementRef{}, err
	}
	if timeout <= 0 {
		timeout = defaultFindTO
	}

	expr := fmt.Sprintf(`(function() {
		%s
		var el = __q(%q);
		if (!el) return null;
		return {
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			class: (typeof el.className === 'string' ? el.className : ''),
			text: (el.textContent || '').trim().substring(0, 200)
		};
	})()`, querySnippet, selector)

	deadline := time.Now().Add(timeout)
	for {
		raw, err := br.Evaluate(ctx, expr)
		if err != nil {
			return domain.ElementRef{}, err
		}
		if len(raw) > 0 && string(raw) != "null" {
			ref := domain.ElementRef{Selector: selector}
			parsed := gjson.ParseBytes(raw)
			ref.Tag = parsed.Get("tag").String()
			ref.ID = parsed.Get("id").String()
			ref.Class = parsed.Get("class").String()
			ref.Text = parsed.Get("text").String()
			return ref, nil
		}
		if time.Now().After(deadline) {
			return domain.ElementRef{}, fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
		}
		select {
		case <-ctx.Done():
			return domain.ElementRef{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// FindElements returns up to 50 matches immediately, no polling.
func (m *Manager) FindElements(ctx context.Context, selector string) ([]domain.ElementRef, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf(`(function() {
		var out = [];
		document.querySelectorAll(%q).forEach(function(el, i) {
			if (out.length >= 50) return;
			out.push({
				index: i,
				tag: el.tagName.toLowerCase(),
				id: el.id || '',
				class: (typeof el.className === 'string' ? el.className : ''),
				text: (el.textContent || '').trim().substring(0, 200)
			});
		});
		return out;
	})()`, selector)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	var out []domain.ElementRef
	for _, item := range gjson.ParseBytes(raw).Array() {
		out = append(out, domain.ElementRef{
			Selector: selector,
			Index:    int(item.Get("index").Int()),
			Tag:      item.Get("tag").String(),
			ID:       item.Get("id").String(),
			Class:    item.Get("class").String(),
			Text:     item.Get("text").String(),
		})
	}
	return out, nil
}

// Text returns the text content of the first match.
func (m *Manager) Text(ctx context.Context, selector string) (string, error) {
	return m.elementString(ctx, selector, `(el.textContent || '').trim()`, 0)
}

// HTML returns the inner HTML of the first match, capped.
func (m *Manager) HTML(ctx context.Context, selector string) (string, error) {
	return m.elementString(ctx, selector, `el.innerHTML || ''`, htmlCap)
}

func (m *Manager) elementString(ctx context.Context, selector, accessor string, limit int) (string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf(`(function() {
		%s
		var el = __q(%q);
		if (!el) return null;
		return %s;
	})()`, querySnippet, selector, accessor)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decode element value: %w", err)
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s, nil
}

// Click scrolls the element into view and clicks it. The in-page click
// works even when the element is obscured.
func (m *Manager) Click(ctx context.Context, selector string) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	if _, err := m.FindElement(ctx, selector, defaultFindTO); err != nil {
		return err
	}

	expr := fmt.Sprintf(`(function() {
		%s
		var el = __q(%q);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, querySnippet, selector)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	if string(raw) != "true" {
		return fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
	}
	return nil
}

// Type focuses the element and inserts text through the input domain so
// framework listeners fire as they would for real keystrokes.
func (m *Manager) Type(ctx context.Context, selector, text string, clearFirst bool) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	if _, err := m.FindElement(ctx, selector, defaultFindTO); err != nil {
		return err
	}

	expr := fmt.Sprintf(`(function() {
		%s
		var el = __q(%q);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.focus();
		if (%t && 'value' in el) {
			el.value = '';
			el.dispatchEvent(new Event('input', {bubbles: true}));
		}
		return true;
	})()`, querySnippet, selector, clearFirst)

	raw, err := br.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	if string(raw) != "true" {
		return fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
	}
	return br.InsertText(ctx, text)
}

// Scroll moves the page. Directions: up, down, top, bottom.
func (m *Manager) Scroll(ctx context.Context, direction string, amount int) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	if amount <= 0 {
		amount = 500
	}

	var expr string
	switch direction {
	case "up":
		expr = fmt.Sprintf(`window.scrollBy(0, -%d)`, amount)
	case "top":
		expr = `window.scrollTo(0, 0)`
	case "bottom":
		expr = `window.scrollTo(0, document.body.scrollHeight)`
	default:
		expr = fmt.Sprintf(`window.scrollBy(0, %d)`, amount)
	}
	_, err = br.Evaluate(ctx, expr)
	return err
}

// Source returns the page HTML, capped, with a truncation flag.
func (m *Manager) Source(ctx context.Context) (string, bool, error) {
	br, err := m.requireRunning()
	if err != nil {
		return "", false, err
	}
	raw, err := br.Evaluate(ctx, `document.documentElement.outerHTML`)
	if err != nil {
		return "", false, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, fmt.Errorf("decode page source: %w", err)
	}
	if len(s) > sourceCap {
		return s[:sourceCap], true, nil
	}
	return s, false, nil
}

// WaitFor blocks until the selector matches or the timeout elapses,
// returning the element that appeared.
func (m *Manager) WaitFor(ctx context.Context, selector string, timeout time.Duration) (domain.ElementRef, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ref, err := m.FindElement(ctx, selector, timeout)
	if err != nil && ctx.Err() == nil && errors.Is(err, domain.ErrElementNotFound) {
		return domain.ElementRef{}, fmt.Errorf("%w: %s not present after %s", domain.ErrTimeout, selector, timeout)
	}
	return ref, err
}
