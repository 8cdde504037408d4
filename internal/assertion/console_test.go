package assertion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

func storeLogs(t *testing.T, m *store.Manager, entries []store.ConsoleEntry) *store.StorageRef {
	t.Helper()

	ref, err := m.StoreConsole(context.Background(), entries, nil)
	require.NoError(t, err)
	return ref
}

func intp(n int) *int { return &n }

func TestEvaluateConsole_MaxErrors(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storeLogs(t, m, []store.ConsoleEntry{
		{Timestamp: 1, Level: store.LevelError, Message: "a"},
		{Timestamp: 2, Level: store.LevelError, Message: "b"},
		{Timestamp: 3, Level: store.LevelError, Message: "c"},
	})

	results := e.EvaluateConsole(context.Background(), &ConsoleSpec{MaxErrors: intp(0)}, ref)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "found 3")
	assert.Equal(t, "3", results[0].Actual)

	results = e.EvaluateConsole(context.Background(), &ConsoleSpec{MaxErrors: intp(3)}, ref)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed, "the bound is inclusive")
}

func TestEvaluateConsole_MaxWarnings(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storeLogs(t, m, []store.ConsoleEntry{
		{Timestamp: 1, Level: store.LevelWarn, Message: "w"},
	})

	results := e.EvaluateConsole(context.Background(), &ConsoleSpec{MaxWarnings: intp(0)}, ref)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}

func TestEvaluateConsole_ExpectedMessages(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storeLogs(t, m, []store.ConsoleEntry{
		{Timestamp: 1, Level: store.LevelInfo, Message: "app booted in 120ms"},
		{Timestamp: 2, Level: store.LevelLog, Message: "route changed"},
	})

	tests := []struct {
		name   string
		rule   MessageRule
		passed bool
	}{
		{"contains at level", MessageRule{Level: store.LevelInfo, Text: "booted"}, true},
		{"wrong level", MessageRule{Level: store.LevelError, Text: "booted"}, false},
		{"regex", MessageRule{Level: store.LevelInfo, Text: `booted in \d+ms`, Match: MatchRegex}, true},
		{"absent text", MessageRule{Level: store.LevelLog, Text: "logout"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := e.EvaluateConsole(context.Background(), &ConsoleSpec{
				ExpectedMessages: []MessageRule{tt.rule},
			}, ref)
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed)
		})
	}
}

func TestEvaluateConsole_ForbiddenMessages(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storeLogs(t, m, []store.ConsoleEntry{
		{Timestamp: 1, Level: store.LevelError, Message: "hydration mismatch"},
		{Timestamp: 2, Level: store.LevelLog, Message: "fine"},
	})

	// Level-scoped forbidden rule trips on the error entry.
	results := e.EvaluateConsole(context.Background(), &ConsoleSpec{
		ForbiddenMessages: []MessageRule{{Level: store.LevelError, Text: "hydration"}},
	}, ref)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "hydration mismatch", results[0].Actual)

	// Unscoped rule checks every level; no match passes.
	results = e.EvaluateConsole(context.Background(), &ConsoleSpec{
		ForbiddenMessages: []MessageRule{{Text: "segfault"}},
	}, ref)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestEvaluateConsole_MissingRef(t *testing.T) {
	e, _ := newTestEngine(t)

	results := e.EvaluateConsole(context.Background(), &ConsoleSpec{MaxErrors: intp(0)}, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "No console reference provided", results[0].Message)
}

func TestEvaluateConsole_EmptySpec(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Nil(t, e.EvaluateConsole(context.Background(), nil, nil))
	assert.Nil(t, e.EvaluateConsole(context.Background(), &ConsoleSpec{}, nil))
}

func TestEvaluateConsole_MultipleRulesAllReport(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storeLogs(t, m, []store.ConsoleEntry{
		{Timestamp: 1, Level: store.LevelError, Message: "boom"},
	})

	results := e.EvaluateConsole(context.Background(), &ConsoleSpec{
		MaxErrors:         intp(0),
		ExpectedMessages:  []MessageRule{{Level: store.LevelError, Text: "boom"}},
		ForbiddenMessages: []MessageRule{{Text: "boom"}},
	}, ref)

	// One failing rule never suppresses the others.
	require.Len(t, results, 3)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.False(t, results[2].Passed)
}
