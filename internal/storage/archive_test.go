package storage

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpen/pkg/domain"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "exchanges.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveAndRecent(t *testing.T) {
	a := openTestArchive(t)
	sid := domain.SessionID("s1")

	err := a.Save(sid, []domain.NetworkLogEntry{
		{RequestID: "r1", URL: "https://target.test/a", Method: "GET", Status: 200, Outcome: domain.OutcomeLive, Timestamp: 1},
		{RequestID: "r2", URL: "https://target.test/ads/x", Method: "GET", Status: 0, Outcome: domain.OutcomeBlocked, MatchedRule: "ads", Timestamp: 2},
		{RequestID: "r3", URL: "https://other.test/b", Method: "POST", Status: 503, Outcome: domain.OutcomeMocked, Timestamp: 3,
			RequestHeaders: map[string]string{"x-test": "1"}},
	})
	require.NoError(t, err)

	got, err := a.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "r3", got[0].RequestID)
	assert.Equal(t, `{"x-test":"1"}`, got[0].RequestHeaders)
	assert.Equal(t, "r1", got[2].RequestID)

	filtered, err := a.Recent(10, "target.test")
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "ads", filtered[0].MatchedRule)
}

func TestSaveEmptyIsNoop(t *testing.T) {
	a := openTestArchive(t)
	require.NoError(t, a.Save("s1", nil))
	got, err := a.Recent(10, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecentLimit(t *testing.T) {
	a := openTestArchive(t)
	entries := make([]domain.NetworkLogEntry, 5)
	for i := range entries {
		entries[i] = domain.NetworkLogEntry{
			RequestID: domain.RequestID(string(rune('a' + i))),
			URL:       "https://target.test",
			Status:    200,
		}
	}
	require.NoError(t, a.Save("s1", entries))

	got, err := a.Recent(2, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPurgeSession(t *testing.T) {
	a := openTestArchive(t)
	require.NoError(t, a.Save("s1", []domain.NetworkLogEntry{{RequestID: "r1", URL: "u"}}))
	require.NoError(t, a.Save("s2", []domain.NetworkLogEntry{{RequestID: "r2", URL: "u"}}))

	require.NoError(t, a.PurgeSession("s1"))
	got, err := a.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].SessionID)
}
