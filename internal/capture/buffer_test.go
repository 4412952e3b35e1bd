package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpen/pkg/domain"
)

func liveEntry(id, url string) domain.NetworkLogEntry {
	return domain.NetworkLogEntry{
		RequestID: domain.RequestID(id),
		URL:       url,
		Method:    "GET",
		Status:    200,
		Outcome:   domain.OutcomeLive,
	}
}

func TestAppendRequiresEnabled(t *testing.T) {
	b := New()
	b.Append(liveEntry("r1", "https://example.com/"), nil)
	assert.Empty(t, b.Logs(""))

	b.SetEnabled(true)
	b.Append(liveEntry("r1", "https://example.com/"), nil)
	assert.Len(t, b.Logs(""), 1)
}

func TestLogsOrderAndFilter(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("r1", "https://example.com/a"), nil)
	b.Append(liveEntry("r2", "https://cdn.example.com/ads/banner.js"), nil)
	b.Append(liveEntry("r3", "https://example.com/b"), nil)

	all := b.Logs("")
	require.Len(t, all, 3)
	assert.Equal(t, domain.RequestID("r1"), all[0].RequestID)
	assert.Equal(t, domain.RequestID("r3"), all[2].RequestID)

	ads := b.Logs("ads")
	require.Len(t, ads, 1)
	assert.Equal(t, domain.RequestID("r2"), ads[0].RequestID)
}

func TestDisableKeepsEntries(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("r1", "https://example.com/"), nil)
	b.SetEnabled(false)
	b.Append(liveEntry("r2", "https://example.com/"), nil)

	logs := b.Logs("")
	require.Len(t, logs, 1)
	assert.Equal(t, domain.RequestID("r1"), logs[0].RequestID)
}

func TestResponseBodyLazyFetchCachesOnce(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	calls := 0
	b.Append(liveEntry("r1", "https://example.com/"), func(context.Context) ([]byte, error) {
		calls++
		return []byte("payload"), nil
	})

	body, err := b.ResponseBody(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)

	_, err = b.ResponseBody(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestResponseBodyErrors(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("no-fetcher", "https://example.com/"), nil)
	b.Append(liveEntry("failing", "https://example.com/"), func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("gone")
	})

	_, err := b.ResponseBody(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrUnknownRequestID))

	_, err = b.ResponseBody(context.Background(), "no-fetcher")
	assert.True(t, errors.Is(err, domain.ErrBodyUnavailable))

	_, err = b.ResponseBody(context.Background(), "failing")
	assert.True(t, errors.Is(err, domain.ErrBodyUnavailable))
}

func TestAppendWithBodySynthetic(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	e := liveEntry("mock-1", "https://api.example.com/config")
	e.Outcome = domain.OutcomeMocked
	b.AppendWithBody(e, []byte(`{"mock":true}`))

	body, err := b.ResponseBody(context.Background(), "mock-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mock":true}`, string(body))
}

func TestDropFetchersKeepsCachedBodies(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("cached", "https://example.com/a"), func(context.Context) ([]byte, error) {
		return []byte("kept"), nil
	})
	b.Append(liveEntry("lazy", "https://example.com/b"), func(context.Context) ([]byte, error) {
		return []byte("never"), nil
	})

	_, err := b.ResponseBody(context.Background(), "cached")
	require.NoError(t, err)

	b.DropFetchers()

	body, err := b.ResponseBody(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), body)

	_, err = b.ResponseBody(context.Background(), "lazy")
	assert.True(t, errors.Is(err, domain.ErrBodyUnavailable))

	assert.Equal(t, map[domain.RequestID][]byte{"cached": []byte("kept")}, b.CachedBodies())
}

func TestDuplicateRequestIDIgnored(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("r1", "https://example.com/first"), nil)
	b.Append(liveEntry("r1", "https://example.com/second"), nil)

	logs := b.Logs("")
	require.Len(t, logs, 1)
	assert.Equal(t, "https://example.com/first", logs[0].URL)
}

func TestReset(t *testing.T) {
	b := New()
	b.SetEnabled(true)
	b.Append(liveEntry("r1", "https://example.com/"), nil)
	b.Reset()
	assert.Empty(t, b.Logs(""))
	assert.False(t, b.Enabled())
}
