package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

func newTestConsoleStore(t *testing.T) *ConsoleStore {
	t.Helper()

	s := NewConsoleStore(t.TempDir(), nil)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func sampleEntries() []ConsoleEntry {
	return []ConsoleEntry{
		{Timestamp: 1000, Level: LevelLog, Message: "start"},
		{Timestamp: 2000, Level: LevelError, Message: "boom"},
	}
}

func TestConsoleStore_StoreAndSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	ref, err := s.Store(ctx, sampleEntries(), &ConsoleMetadata{URL: "https://example.com"})
	require.NoError(t, err)

	summary, err := s.GetSummary(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 0, summary.WarningCount)
	assert.Equal(t, int64(1000), summary.StartTime)
	assert.Equal(t, int64(2000), summary.EndTime)
	assert.Equal(t, 1, summary.ByLevel[LevelLog])
	assert.Equal(t, 1, summary.ByLevel[LevelError])

	// Ref tags carry the same summary for index-only queries.
	assert.Equal(t, "2", ref.Tag(TagTotal))
	assert.Equal(t, "1", ref.Tag(TagErrorCount))
}

func TestConsoleStore_SummaryMatchesEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	entries := []ConsoleEntry{
		{Timestamp: 1, Level: LevelError, Message: "a"},
		{Timestamp: 2, Level: LevelWarn, Message: "b"},
		{Timestamp: 3, Level: LevelError, Message: "c"},
		{Timestamp: 4, Level: LevelDebug, Message: "d"},
	}
	ref, err := s.Store(ctx, entries, nil)
	require.NoError(t, err)

	summary, err := s.GetSummary(ctx, ref)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	errorCount := 0
	for _, e := range got {
		if e.Level == LevelError {
			errorCount++
		}
	}
	assert.Equal(t, errorCount, summary.ErrorCount)
}

func TestConsoleStore_GetErrorsAndWarnings(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	entries := []ConsoleEntry{
		{Timestamp: 1, Level: LevelLog, Message: "fine"},
		{Timestamp: 2, Level: LevelError, Message: "broken"},
		{Timestamp: 3, Level: LevelWarn, Message: "careful"},
	}
	ref, err := s.Store(ctx, entries, nil)
	require.NoError(t, err)

	errs, err := s.GetErrors(ctx, ref)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].Message)

	warns, err := s.GetWarnings(ctx, ref)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, "careful", warns[0].Message)
}

func TestConsoleStore_RetrieveFiltered(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	entries := []ConsoleEntry{
		{Timestamp: 100, Level: LevelLog, Message: "alpha"},
		{Timestamp: 200, Level: LevelLog, Message: "beta"},
		{Timestamp: 300, Level: LevelError, Message: "alpha failure"},
	}
	ref, err := s.Store(ctx, entries, nil)
	require.NoError(t, err)

	got, err := s.RetrieveFiltered(ctx, ref, ConsoleFilter{SearchText: "ALPHA"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.RetrieveFiltered(ctx, ref, ConsoleFilter{StartTime: 150, EndTime: 250})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "beta", got[0].Message)

	got, err = s.RetrieveFiltered(ctx, ref, ConsoleFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestConsoleStore_QueryHasErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	_, err := s.Store(ctx, []ConsoleEntry{{Timestamp: 1, Level: LevelLog, Message: "clean"}}, nil)
	require.NoError(t, err)
	withErr, err := s.Store(ctx, sampleEntries(), nil)
	require.NoError(t, err)

	refs, err := s.Query(ctx, ConsoleFilter{HasErrors: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, withErr.Key(), refs[0].Key())
}

func TestConsoleStore_QueryByLevel(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	_, err := s.Store(ctx, []ConsoleEntry{{Timestamp: 1, Level: LevelDebug, Message: "dbg"}}, nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []ConsoleEntry{{Timestamp: 2, Level: LevelInfo, Message: "info"}}, nil)
	require.NoError(t, err)

	refs, err := s.QueryByLevel(ctx, LevelDebug)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestConsoleStore_QueryMultipleLevelsMatchAny(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	_, err := s.Store(ctx, []ConsoleEntry{{Timestamp: 1, Level: LevelDebug, Message: "dbg"}}, nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []ConsoleEntry{{Timestamp: 2, Level: LevelInfo, Message: "info"}}, nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []ConsoleEntry{{Timestamp: 3, Level: LevelLog, Message: "log"}}, nil)
	require.NoError(t, err)

	refs, err := s.Query(ctx, ConsoleFilter{Levels: []string{LevelDebug, LevelInfo}})
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestConsoleStore_QueryIsIndexOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	ref, err := s.Store(ctx, sampleEntries(), &ConsoleMetadata{URL: "https://a.test"})
	require.NoError(t, err)

	// Query must never read the payload.
	require.NoError(t, os.Remove(s.base.itemPath(ref.Key(), "json")))

	refs, err := s.Query(ctx, ConsoleFilter{HasErrors: true, URL: "https://a.test"})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestConsoleStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	_, err := s.Store(ctx, sampleEntries(), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []ConsoleEntry{{Timestamp: 5, Level: LevelLog, Message: "quiet"}}, nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "BOOM", ConsoleFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 1)
	assert.Equal(t, "boom", results[0].Matches[0].Message)
}

func TestConsoleStore_StaleSecondaryIndexIDsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	ref, err := s.Store(ctx, sampleEntries(), nil)
	require.NoError(t, err)

	// Delete leaves secondary indexes untouched; queries must filter
	// the stale id out.
	_, err = s.Delete(ctx, ref.Key())
	require.NoError(t, err)

	ids, err := s.base.readListIndex("test", hasErrorsIndex)
	require.NoError(t, err)
	assert.Contains(t, ids, ref.Key(), "delete must not rewrite secondary indexes")

	refs, err := s.Query(ctx, ConsoleFilter{HasErrors: true})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestConsoleStore_CompactIndexes(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	ref, err := s.Store(ctx, sampleEntries(), nil)
	require.NoError(t, err)
	_, err = s.Delete(ctx, ref.Key())
	require.NoError(t, err)

	require.NoError(t, s.CompactIndexes(ctx))

	ids, err := s.base.readListIndex("test", hasErrorsIndex)
	require.NoError(t, err)
	assert.NotContains(t, ids, ref.Key())
}

func TestConsoleStore_GetGlobalStats(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	_, err := s.Store(ctx, sampleEntries(), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []ConsoleEntry{
		{Timestamp: 1, Level: LevelWarn, Message: "w"},
		{Timestamp: 2, Level: LevelWarn, Message: "w2"},
	}, nil)
	require.NoError(t, err)

	stats, err := s.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Collections)
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 1, stats.TotalErrors)
	assert.Equal(t, 2, stats.TotalWarnings)
	assert.Equal(t, 1, stats.ByLevel[LevelError])
	assert.Equal(t, 1, stats.ByLevel[LevelWarn])
}

func TestConsoleStore_Retrieve_Missing(t *testing.T) {
	ctx := context.Background()
	s := newTestConsoleStore(t)

	ref := &StorageRef{ID: "console_missing", Category: CategoryConsole}
	_, err := s.Retrieve(ctx, ref)
	require.Error(t, err)
	assert.True(t, oerrors.IsNotFound(err))
}
