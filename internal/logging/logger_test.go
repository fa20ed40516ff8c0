package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProduction(t *testing.T) {
	logger, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewDevelopmentWithLevel(t *testing.T) {
	logger, err := New(true, "debug")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(-1), "debug level should be enabled")
}

func TestNewRejectsBogusLevel(t *testing.T) {
	_, err := New(false, "shouting")
	require.Error(t, err)
}
