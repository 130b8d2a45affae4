package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageLevelLoggingBeforeInitialize(t *testing.T) {
	// Must not panic even though Initialize was never called.
	Infow("pre-init info", "key", "value")
	Warnw("pre-init warn")
	Errorw("pre-init error")
	Debugw("pre-init debug")
}

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
	assert.NotNil(t, Logger)
	Infow("json logger works", "component", "test")
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false)
	require.NoError(t, err)
	assert.False(t, JSONOutput)
	assert.NotNil(t, Logger)
}
