package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_Levels(t *testing.T) {
	require.NoError(t, Init("warn", false))
	assert.False(t, Log().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitDevelopment())
	assert.True(t, Log().Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, Init("loud", false))
}

func TestNamed_UsesInstalledLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	defer Set(zap.NewNop())

	Named("pipeline").Info("page extracted", zap.Int("pos", 3))
	S().Infow("sugared", "k", "v")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	assert.Equal(t, int64(3), entries[0].ContextMap()["pos"])
}
