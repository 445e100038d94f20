package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "ledgercast/pkg/logx"
)

func record(i int) RunRecord {
	return RunRecord{
		RunID:      fmt.Sprintf("run-%03d", i),
		At:         time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		Trigger:    "cli",
		Mode:       "concurrent",
		Total:      10,
		Announced:  9,
		Failed:     1,
		ElapsedMS:  1200,
		Throughput: 8.33,
		LastHash:   "ABCDEF",
	}
}

func openDriver(t *testing.T, driver string, retain int) Store {
	t.Helper()
	name := "history.jsonl"
	if driver == "sqlite" {
		name = "history.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "nested", name), Retain: retain}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecentRunsNewestFirst(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver, 0)

			for i := 1; i <= 3; i++ {
				require.NoError(t, st.AppendRun(ctx, record(i)))
			}

			got, err := st.RecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "run-003", got[0].RunID)
			require.Equal(t, "run-002", got[1].RunID)
			require.Equal(t, record(3).Announced, got[0].Announced)
			require.Equal(t, "ABCDEF", got[0].LastHash)
			require.True(t, record(3).At.Equal(got[0].At))

			all, err := st.RecentRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
		})
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	ctx := context.Background()

	st := openDriver(t, "sqlite", 10)
	for i := 0; i < 50; i++ {
		require.NoError(t, st.AppendRun(ctx, record(i)))
	}
	got, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	require.Equal(t, "run-049", got[0].RunID)

	fst := openDriver(t, "file", 5)
	for i := 0; i < compactEvery; i++ {
		require.NoError(t, fst.AppendRun(ctx, record(i)))
	}
	got, err = fst.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, fmt.Sprintf("run-%03d", compactEvery-1), got[0].RunID)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	st := openDriver(t, "file", 0)
	require.NoError(t, st.AppendRun(ctx, record(1)))

	fs := st.(*fileStore)
	fs.mu.Lock()
	_, err := fs.f.WriteString("{not json\n")
	fs.mu.Unlock()
	require.NoError(t, err)

	require.NoError(t, st.AppendRun(ctx, record(2)))
	got, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
