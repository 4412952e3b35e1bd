package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventChainingThroughL(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.log")
	Setup(Options{Level: "debug", Writers: []string{"file"}, File: file})

	L().Info().Str("k", "v").Msg("hello from facade")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from facade")
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestSetupDefaultsToInfoLevel(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.log")
	Setup(Options{Level: "nonsense", Writers: []string{"file"}, File: file})

	L().Debug().Msg("below threshold")
	L().Info().Msg("at threshold")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below threshold")
	assert.Contains(t, string(data), "at threshold")
}
