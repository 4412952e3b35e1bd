package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalEmptySetPasses(t *testing.T) {
	e := New()
	d := e.Eval("https://example.com/index.html")
	assert.Equal(t, Pass, d.Kind)
}

func TestBlockSubstringMatch(t *testing.T) {
	e := New()
	e.Replace(RuleSet{Block: []string{"ads"}})

	d := e.Eval("https://cdn.example.com/ads/banner.js")
	require.Equal(t, Block, d.Kind)
	assert.Equal(t, "ads", d.Pattern)

	d = e.Eval("https://example.com/app.js")
	assert.Equal(t, Pass, d.Kind)
}

func TestBlockGlobMatch(t *testing.T) {
	e := New()
	e.Replace(RuleSet{Block: []string{"https://*.tracker.io/*"}})

	assert.Equal(t, Block, e.Eval("https://api.tracker.io/v1/collect").Kind)
	assert.Equal(t, Pass, e.Eval("https://example.com/tracker.io").Kind)
}

func TestBlockTakesPrecedenceOverMock(t *testing.T) {
	e := New()
	e.Replace(RuleSet{
		Block: []string{"api/ads"},
		Mock:  []MockRule{{Pattern: "api", Status: 200, Body: []byte(`{}`)}},
	})

	d := e.Eval("https://example.com/api/ads/slots")
	assert.Equal(t, Block, d.Kind)
}

func TestMockTakesPrecedenceOverModify(t *testing.T) {
	e := New()
	e.Replace(RuleSet{
		Mock:          []MockRule{{Pattern: "/config.json", Status: 503, Body: []byte("down")}},
		ModifyHeaders: map[string]string{"X-Test": "1"},
	})

	d := e.Eval("https://example.com/config.json")
	require.Equal(t, Mock, d.Kind)
	require.NotNil(t, d.Mock)
	assert.Equal(t, 503, d.Mock.Status)
	assert.Equal(t, []byte("down"), d.Mock.Body)

	d = e.Eval("https://example.com/other")
	require.Equal(t, Modify, d.Kind)
	assert.Equal(t, "1", d.Headers["X-Test"])
}

func TestMockFirstRegisteredWins(t *testing.T) {
	e := New()
	e.Replace(RuleSet{Mock: []MockRule{
		{Pattern: "example.com", Status: 201},
		{Pattern: "example.com/x", Status: 202},
	}})

	d := e.Eval("https://example.com/x")
	require.Equal(t, Mock, d.Kind)
	assert.Equal(t, 201, d.Mock.Status)
}

func TestMockDefaultStatus(t *testing.T) {
	e := New()
	e.Replace(RuleSet{Mock: []MockRule{{Pattern: "x"}}})
	d := e.Eval("https://x/")
	require.Equal(t, Mock, d.Kind)
	assert.Equal(t, 200, d.Mock.Status)
}

// Replacement is atomic: a concurrent Eval returns the verdict of one
// complete generation, never a state belonging to neither.
func TestReplaceIsAtomic(t *testing.T) {
	e := New()
	// Under the old generation the URL is blocked; under the new one it is
	// mocked with status 599. Pass, or a mock with any other status, would
	// mean Eval observed a torn set.
	oldSet := RuleSet{Block: []string{"contested"}}
	newSet := RuleSet{Mock: []MockRule{{Pattern: "contested", Status: 599}}}
	e.Replace(oldSet)

	const workers = 8
	const rounds = 2000
	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				d := e.Eval("https://site/contested/x")
				switch d.Kind {
				case Block:
				case Mock:
					if d.Mock == nil || d.Mock.Status != 599 {
						errs <- "mock decision from torn rule set"
						return
					}
				default:
					errs <- "pass decision from torn rule set"
					return
				}
			}
		}()
	}

	for i := 0; i < rounds; i++ {
		if i%2 == 0 {
			e.Replace(newSet)
		} else {
			e.Replace(oldSet)
		}
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
