package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitWithLevel(t *testing.T) {
	require.NoError(t, InitWithLevel("warn", false))
	assert.False(t, Log().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log().Core().Enabled(zapcore.WarnLevel))
	assert.Same(t, Log(), zap.L())
	assert.NotNil(t, S())

	assert.Error(t, InitWithLevel("loud", false))
	assert.True(t, Log().Core().Enabled(zapcore.WarnLevel), "bad level keeps the previous logger")

	require.NoError(t, InitDevelopment())
	assert.True(t, Log().Core().Enabled(zapcore.DebugLevel))
	Sync()
}

func TestComponentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgescan.log")
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	require.NoError(t, build(cfg))
	t.Cleanup(func() { setLogger(zap.NewNop()) })

	Component("pipeline").Info("Pipeline started", zap.Int("windows", 70))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"service":"edgescan"`)
	assert.Contains(t, line, `"component":"pipeline"`)
	assert.Contains(t, line, `"windows":70`)
	assert.Contains(t, line, `"timestamp":`)
}
