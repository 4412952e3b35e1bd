package rules

import (
	"strings"
	"sync/atomic"

	"github.com/gobwas/glob"
)

// MockRule maps a URL pattern to a synthetic response that short-circuits
// the real network.
type MockRule struct {
	Pattern     string
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// RuleSet is the full interception configuration. Within each category
// rules are evaluated in registration order, first match wins. Categories
// have fixed precedence: block over mock over modify.
type RuleSet struct {
	Block         []string
	Mock          []MockRule
	ModifyHeaders map[string]string
}

type Kind int

const (
	Pass Kind = iota
	Block
	Mock
	Modify
)

// Decision is the engine's verdict for one request.
type Decision struct {
	Kind    Kind
	Pattern string            // matched pattern for Block/Mock
	Mock    *MockRule         // set when Kind == Mock
	Headers map[string]string // overrides when Kind == Modify
}

// matcher matches a URL by glob when the pattern carries glob
// metacharacters, by substring otherwise (a bare "ads" must match
// ".../ads/banner.js").
type matcher struct {
	raw string
	g   glob.Glob
}

func compileMatcher(pattern string) matcher {
	if strings.ContainsAny(pattern, "*?[{") {
		if g, err := glob.Compile(pattern); err == nil {
			return matcher{raw: pattern, g: g}
		}
	}
	return matcher{raw: pattern}
}

func (m matcher) match(url string) bool {
	if m.g != nil {
		return m.g.Match(url)
	}
	return strings.Contains(url, m.raw)
}

type mockEntry struct {
	m    matcher
	rule MockRule
}

// compiled is an immutable snapshot of a rule set. Eval never mutates it,
// so a request in flight keeps the snapshot it started with.
type compiled struct {
	block   []matcher
	mock    []mockEntry
	headers map[string]string
}

func compile(rs RuleSet) *compiled {
	c := &compiled{}
	for _, p := range rs.Block {
		c.block = append(c.block, compileMatcher(p))
	}
	for _, mr := range rs.Mock {
		if mr.Status == 0 {
			mr.Status = 200
		}
		c.mock = append(c.mock, mockEntry{m: compileMatcher(mr.Pattern), rule: mr})
	}
	if len(rs.ModifyHeaders) > 0 {
		c.headers = make(map[string]string, len(rs.ModifyHeaders))
		for k, v := range rs.ModifyHeaders {
			c.headers[k] = v
		}
	}
	return c
}

// Engine applies an ordered rule set to outgoing requests.
type Engine struct {
	cur atomic.Pointer[compiled]
}

func New() *Engine {
	e := &Engine{}
	e.cur.Store(compile(RuleSet{}))
	return e
}

// Replace swaps the active rule set atomically. Requests evaluated after
// Replace returns see the new set in full; requests already being
// evaluated keep the old one.
func (e *Engine) Replace(rs RuleSet) {
	e.cur.Store(compile(rs))
}

// Eval is a pure function of the active rule set and the URL.
func (e *Engine) Eval(url string) Decision {
	c := e.cur.Load()
	for _, m := range c.block {
		if m.match(url) {
			return Decision{Kind: Block, Pattern: m.raw}
		}
	}
	for i := range c.mock {
		if c.mock[i].m.match(url) {
			rule := c.mock[i].rule
			return Decision{Kind: Mock, Pattern: rule.Pattern, Mock: &rule}
		}
	}
	if len(c.headers) > 0 {
		return Decision{Kind: Modify, Headers: c.headers}
	}
	return Decision{Kind: Pass}
}
