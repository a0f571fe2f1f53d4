package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitAndLevels(t *testing.T) {
	require.NoError(t, Init("debug"))
	require.NotNil(t, Logger())

	// Unknown levels fall back to info rather than failing startup.
	require.NoError(t, Init("chatty"))
}

func TestWithModule(t *testing.T) {
	require.NoError(t, Init("info"))
	log := WithModule("links")
	require.NotNil(t, log)
}

func TestTokenFieldCarriesDigestOnly(t *testing.T) {
	field := TokenField("deadbeef")
	require.Equal(t, "token_digest", field.Key)
	require.Equal(t, zapcore.StringType, field.Type)
	require.Equal(t, "deadbeef", field.String)
}
