package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()
	var l Logger
	require.True(t, l.IsZero())
	l.Error("nothing happens", String("k", "v"))
	require.False(t, Nop().IsZero())
}

func TestWithKeepsParentFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	root := NewWriter(&buf, "debug")
	child := root.With(String("comp", "dispatch"))
	_ = root.With(String("comp", "other"))

	child.Info("unit done", Int("index", 3), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")), Err(nil))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "dispatch", rec["comp"])
	require.EqualValues(t, 3, rec["index"])
	require.Equal(t, "1.5s", rec["took"])
	require.Equal(t, "boom", rec["err"])
	require.Equal(t, "unit done", rec["message"])
	require.Contains(t, rec["caller"], "logging_test.go:")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("dropped")
	require.Zero(t, buf.Len())
	require.False(t, l.Enabled(zerolog.InfoLevel))
	l.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestServiceApplyFollowsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("hidden")
	log.Info("first")
	require.Equal(t, zerolog.InfoLevel, svc.Level())

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("second")
	require.Equal(t, zerolog.DebugLevel, svc.Level())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "first")
	require.Contains(t, out, "second")
}
