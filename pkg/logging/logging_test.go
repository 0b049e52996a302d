package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cetree.log")
	f, logger, err := FileLogger(logrus.InfoLevel, path)
	require.NoError(t, err)
	logger.SetOutput(&bytes.Buffer{})

	logger.WithField("run_id", "r1").Info("applied")
	logger.Debug("dropped")
	require.NoError(t, f.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "applied", entry["msg"])
	require.Equal(t, "r1", entry["run_id"])
}

func TestFileLogger_EmptyPathSkipsFile(t *testing.T) {
	f, logger, err := FileLogger(logrus.ErrorLevel, "")
	require.NoError(t, err)
	require.Nil(t, f)
	require.Equal(t, logrus.ErrorLevel, logger.GetLevel())
}
