package assertion

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

const pageHTML = `<html>
<head><title>Shop</title></head>
<body>
  <div id="app" class="root">
    <nav><a href="/">Home</a><a href="/cart">Cart</a></nav>
    <h1>Welcome to the shop</h1>
    <p class="greeting">Hello, Anna!</p>
    <div id="banner" style="display: none">Sale!</div>
    <span data-state="ready">ok</span>
  </div>
</body>
</html>`

func newTestEngine(t *testing.T) (*Engine, *store.Manager) {
	t.Helper()

	m, err := store.NewManager(config.StorageConfig{
		BaseDir:         t.TempDir(),
		DOMChunkSize:    75,
		ThumbnailWidth:  320,
		ThumbnailHeight: 240,
		Quality:         80,
	}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return NewEngine(m, nil), m
}

func storePage(t *testing.T, m *store.Manager) *store.StorageRef {
	t.Helper()

	ref, err := m.StoreDOM(context.Background(), pageHTML, nil)
	require.NoError(t, err)
	return ref
}

func failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func TestEvaluateDOM_ExistsAndNotExists(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{
		Exists:    []string{"#app", "nav a"},
		NotExists: []string{".missing"},
	}, ref)

	require.Len(t, results, 3)
	assert.Empty(t, failures(results))
}

func TestEvaluateDOM_ExistsFailure(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{
		Exists: []string{"#nope"},
	}, ref)

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "exists", results[0].Rule)
	assert.Equal(t, "0 matches", results[0].Actual)
}

func TestEvaluateDOM_VisibleAndHidden(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{
		Visible: []string{".greeting"},
		Hidden:  []string{"#banner"},
	}, ref)

	require.Len(t, results, 2)
	assert.Empty(t, failures(results))

	// The inline style check is whitespace-insensitive.
	results = e.EvaluateDOM(context.Background(), &DOMSpec{
		Visible: []string{"#banner"},
	}, ref)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}

func TestEvaluateDOM_TextContent(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	tests := []struct {
		name   string
		rule   TextRule
		passed bool
	}{
		{"contains default", TextRule{Selector: ".greeting", Text: "Anna"}, true},
		{"exact match", TextRule{Selector: ".greeting", Text: "Hello, Anna!", Match: MatchExact}, true},
		{"exact mismatch", TextRule{Selector: ".greeting", Text: "Hello", Match: MatchExact}, false},
		{"regex", TextRule{Selector: "h1", Text: `^Welcome.*shop$`, Match: MatchRegex}, true},
		{"regex no match", TextRule{Selector: "h1", Text: `^Goodbye`, Match: MatchRegex}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := e.EvaluateDOM(context.Background(), &DOMSpec{TextContent: []TextRule{tt.rule}}, ref)
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed)
		})
	}
}

func TestEvaluateDOM_InvalidRegexFailsThatRuleOnly(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{
		TextContent: []TextRule{
			{Selector: "h1", Text: `[unclosed`, Match: MatchRegex},
		},
		Exists: []string{"#app"},
	}, ref)

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed, "exists rule unaffected")
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Message, "invalid regex")
}

func TestEvaluateDOM_Attributes(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{
		Attributes: []AttributeRule{
			{Selector: "span", Attribute: "data-state", Value: "ready", Match: MatchExact},
			{Selector: "span", Attribute: "data-missing", Value: "x"},
		},
	}, ref)

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed, "missing attribute fails")
}

func TestEvaluateDOM_Count(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	tests := []struct {
		name   string
		rule   CountRule
		passed bool
	}{
		{"equal default", CountRule{Selector: "nav a", Count: 2}, true},
		{"equal fails", CountRule{Selector: "nav a", Count: 3}, false},
		{"gt", CountRule{Selector: "nav a", Count: 1, Operator: OpGt}, true},
		{"lt", CountRule{Selector: "nav a", Count: 5, Operator: OpLt}, true},
		{"gte", CountRule{Selector: "nav a", Count: 2, Operator: OpGte}, true},
		{"lte fails", CountRule{Selector: "nav a", Count: 1, Operator: OpLte}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := e.EvaluateDOM(context.Background(), &DOMSpec{Count: []CountRule{tt.rule}}, ref)
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed)
		})
	}
}

func TestEvaluateDOM_InvalidSelectorFailsRule(t *testing.T) {
	e, m := newTestEngine(t)
	ref := storePage(t, m)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{Exists: []string{"div[[["}}, ref)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "Invalid selector")
}

func TestEvaluateDOM_MissingRef(t *testing.T) {
	e, _ := newTestEngine(t)

	results := e.EvaluateDOM(context.Background(), &DOMSpec{Exists: []string{"#app"}}, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "No DOM reference provided", results[0].Message)
}

func TestEvaluateDOM_EmptySpec(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Nil(t, e.EvaluateDOM(context.Background(), nil, nil))
	assert.Nil(t, e.EvaluateDOM(context.Background(), &DOMSpec{}, nil))
}
