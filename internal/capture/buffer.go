package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"webpen/pkg/domain"
)

// BodyFunc retrieves the response body for one exchange on demand.
type BodyFunc func(ctx context.Context) ([]byte, error)

type entry struct {
	log     domain.NetworkLogEntry
	fetch   BodyFunc
	body    []byte
	fetched bool
}

// Buffer is the append-only log of observed exchanges. Bodies are never
// stored inline; each entry carries a lazy fetcher and caches the result
// of the first successful fetch.
type Buffer struct {
	mu      sync.Mutex
	enabled bool
	entries []*entry
	index   map[domain.RequestID]*entry
}

func New() *Buffer {
	return &Buffer{index: make(map[domain.RequestID]*entry)}
}

// SetEnabled toggles monitoring. Disabling stops appends but keeps
// existing entries readable.
func (b *Buffer) SetEnabled(on bool) {
	b.mu.Lock()
	b.enabled = on
	b.mu.Unlock()
}

func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// Append records one exchange in capture order. It is a no-op while
// monitoring is disabled or when the request id was already recorded.
func (b *Buffer) Append(e domain.NetworkLogEntry, fetch BodyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	if _, dup := b.index[e.RequestID]; dup {
		return
	}
	ent := &entry{log: e, fetch: fetch}
	b.entries = append(b.entries, ent)
	b.index[e.RequestID] = ent
}

// AppendWithBody records a synthetic exchange (blocked or mocked) whose
// body is already known.
func (b *Buffer) AppendWithBody(e domain.NetworkLogEntry, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	if _, dup := b.index[e.RequestID]; dup {
		return
	}
	ent := &entry{log: e, body: body, fetched: true}
	b.entries = append(b.entries, ent)
	b.index[e.RequestID] = ent
}

// Logs returns entries in capture order, oldest first, bodies elided.
// A non-empty filter keeps only URLs containing it.
func (b *Buffer) Logs(filterURL string) []domain.NetworkLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.NetworkLogEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if filterURL != "" && !strings.Contains(e.log.URL, filterURL) {
			continue
		}
		out = append(out, e.log)
	}
	return out
}

// ResponseBody fetches and caches the body for one entry.
func (b *Buffer) ResponseBody(ctx context.Context, id domain.RequestID) ([]byte, error) {
	b.mu.Lock()
	ent, ok := b.index[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRequestID, id)
	}
	if ent.fetched {
		body := ent.body
		b.mu.Unlock()
		if body == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrBodyUnavailable, id)
		}
		return body, nil
	}
	fetch := ent.fetch
	b.mu.Unlock()

	if fetch == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBodyUnavailable, id)
	}
	body, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBodyUnavailable, err)
	}

	b.mu.Lock()
	ent.body = body
	ent.fetched = true
	ent.fetch = nil
	b.mu.Unlock()
	return body, nil
}

// CachedBodies returns the bodies already materialized, keyed by request id.
func (b *Buffer) CachedBodies() map[domain.RequestID][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[domain.RequestID][]byte)
	for _, e := range b.entries {
		if e.fetched && e.body != nil {
			out[e.log.RequestID] = e.body
		}
	}
	return out
}

// DropFetchers severs lazy body retrieval, used when the session closes
// and the collaborator is gone. Cached bodies stay readable.
func (b *Buffer) DropFetchers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		e.fetch = nil
	}
}

// Reset clears all entries and disables monitoring.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
	b.entries = nil
	b.index = make(map[domain.RequestID]*entry)
}
