package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &m))
	return m
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("relay", &buf)

	l.WithField("room", "1").WithError(errors.New("boom")).Warnf("dropped %d frames", 2)

	m := decodeLine(t, buf.Bytes())
	assert.Equal(t, "relay", m["component"])
	assert.Equal(t, "1", m["room"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "dropped 2 frames", m["message"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("session", &buf).WithFields(map[string]interface{}{"a": 1, "b": "two"}).Info("ready")

	m := decodeLine(t, buf.Bytes())
	assert.EqualValues(t, 1, m["a"])
	assert.Equal(t, "two", m["b"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithField("k", "v").Errorf("nothing %s", "here")
	})
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	cfg := DefaultLogConfig()
	cfg.Level = "warn"
	cfg.LogToJSON = true
	cfg.LogToFile = true
	cfg.FilePath = filepath.Join(t.TempDir(), "whisper.log")
	InitLogger(cfg)

	l := NewLogger("test")
	l.Info("filtered out")
	l.Warn("kept")

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered out")
	m := decodeLine(t, data)
	assert.Equal(t, "kept", m["message"])
	assert.Equal(t, "test", m["component"])
}
