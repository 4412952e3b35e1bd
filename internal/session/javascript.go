package session

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"webpen/pkg/domain"
)

// Execute runs an arbitrary expression in the page and returns its
// JSON-encoded value. Promises are awaited.
func (m *Manager) Execute(ctx context.Context, script string) ([]byte, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}
	return br.Evaluate(ctx, script)
}

// ConsoleLogs returns console messages captured since launch.
func (m *Manager) ConsoleLogs(ctx context.Context) ([]domain.ConsoleEntry, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}
	return br.ConsoleLogs(ctx)
}

// GlobalVars extracts serializable window globals, skipping functions
// and the webkit/on* noise, capped at 50 entries.
func (m *Manager) GlobalVars(ctx context.Context) (map[string]string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}

	raw, err := br.Evaluate(ctx, `(function() {
		var globals = {};
		var count = 0;
		for (var key in window) {
			if (count >= 50) break;
			if (key.startsWith('webkit') || key.startsWith('on')) continue;
			try {
				if (!window.hasOwnProperty(key)) continue;
				var value = window[key];
				var t = typeof value;
				if (t === 'function' || t === 'undefined') continue;
				globals[key] = JSON.stringify(value);
				count++;
			} catch (e) {}
		}
		return globals;
	})()`)
	if err != nil {
		return nil, err
	}
	return decodeStringMap(raw), nil
}

func storageObject(kind string) string {
	return fmt.Sprintf(`(function() {
		var data = {};
		for (var i = 0; i < %s.length; i++) {
			var key = %s.key(i);
			data[key] = %s.getItem(key);
		}
		return data;
	})()`, kind, kind, kind)
}

func (m *Manager) LocalStorage(ctx context.Context) (map[string]string, error) {
	return m.storageGet(ctx, "localStorage")
}

func (m *Manager) SessionStorage(ctx context.Context) (map[string]string, error) {
	return m.storageGet(ctx, "sessionStorage")
}

func (m *Manager) storageGet(ctx context.Context, kind string) (map[string]string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}
	raw, err := br.Evaluate(ctx, storageObject(kind))
	if err != nil {
		return nil, err
	}
	return decodeStringMap(raw), nil
}

func (m *Manager) SetLocalStorage(ctx context.Context, key, value string) error {
	return m.storageSet(ctx, "localStorage", key, value)
}

func (m *Manager) SetSessionStorage(ctx context.Context, key, value string) error {
	return m.storageSet(ctx, "sessionStorage", key, value)
}

func (m *Manager) storageSet(ctx context.Context, kind, key, value string) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	_, err = br.Evaluate(ctx, fmt.Sprintf(`%s.setItem(%q, %q)`, kind, key, value))
	return err
}

func (m *Manager) ClearLocalStorage(ctx context.Context) error {
	br, err := m.requireRunning()
	if err != nil {
		return err
	}
	_, err = br.Evaluate(ctx, `localStorage.clear()`)
	return err
}

// Forms lists every form with its inputs, the reconnaissance view of the
// page's attack surface.
func (m *Manager) Forms(ctx context.Context) ([]domain.Form, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}

	raw, err := br.Evaluate(ctx, `(function() {
		var forms = [];
		document.querySelectorAll('form').forEach(function(form) {
			var f = {action: form.action || '', method: (form.method || 'get').toLowerCase(), inputs: []};
			form.querySelectorAll('input, select, textarea').forEach(function(input) {
				f.inputs.push({
					name: input.name || '',
					type: input.type || input.tagName.toLowerCase(),
					value: input.value || ''
				});
			});
			forms.push(f);
		});
		return forms;
	})()`)
	if err != nil {
		return nil, err
	}

	var out []domain.Form
	for _, item := range gjson.ParseBytes(raw).Array() {
		f := domain.Form{
			Action: item.Get("action").String(),
			Method: item.Get("method").String(),
		}
		for _, in := range item.Get("inputs").Array() {
			f.Inputs = append(f.Inputs, domain.FormInput{
				Name:  in.Get("name").String(),
				Type:  in.Get("type").String(),
				Value: in.Get("value").String(),
			})
		}
		out = append(out, f)
	}
	return out, nil
}

// Links returns up to 200 hrefs with their visible text.
func (m *Manager) Links(ctx context.Context) ([]map[string]string, error) {
	br, err := m.requireRunning()
	if err != nil {
		return nil, err
	}

	raw, err := br.Evaluate(ctx, `(function() {
		var links = [];
		document.querySelectorAll('a[href]').forEach(function(a) {
			if (links.length >= 200) return;
			links.push({href: a.href, text: a.textContent.trim().substring(0, 100)});
		});
		return links;
	})()`)
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for _, item := range gjson.ParseBytes(raw).Array() {
		out = append(out, map[string]string{
			"href": item.Get("href").String(),
			"text": item.Get("text").String(),
		})
	}
	return out, nil
}

func decodeStringMap(raw []byte) map[string]string {
	out := make(map[string]string)
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}
