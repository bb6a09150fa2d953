package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hydranotes/hydra/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	// Get Stats After
	require.Contains(t, buff.String(), `"message":"Test"`)
}

func TestLogLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Level("WARN").Make()
	require.NoError(t, err)

	l.Logger.Info().Msg("quiet")
	require.Zero(t, buff.Len())
	l.Logger.Warn().Msg("loud")
	require.Contains(t, buff.String(), "loud")

	_, err = logger.New().Level("chatty").Make()
	require.Error(t, err)
}

func TestLogConsole(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.New().FromBuffer(buff).Format(logger.FormatConsole).Make()
	require.NoError(t, err)

	l.Logger.Info().Str("block", "b1").Msg("created")
	require.Contains(t, buff.String(), "created")
	require.NotContains(t, buff.String(), `"message"`)

	_, err = logger.New().Format("xml").Make()
	require.Error(t, err)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydra.log")
	l, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)

	l.Logger.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}
