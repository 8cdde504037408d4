package oracle

import (
	"context"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

// QueryAPI composes index-only queries across stores. No method here
// reads a payload file.
type QueryAPI struct {
	manager *store.Manager
}

// Stats reports per-store counts and total size.
func (q *QueryAPI) Stats(ctx context.Context) (*store.StorageStats, error) {
	return q.manager.GetStats(ctx)
}

// Checkpoints lists checkpoint refs matching filter.
func (q *QueryAPI) Checkpoints(ctx context.Context, filter store.Filter) ([]*store.StorageRef, error) {
	return q.manager.Checkpoints().Query(ctx, filter)
}

// Screenshots lists screenshot refs matching filter.
func (q *QueryAPI) Screenshots(ctx context.Context, filter store.Filter) ([]*store.StorageRef, error) {
	return q.manager.Screenshots().Query(ctx, filter)
}

// DOMs lists DOM snapshot refs matching filter.
func (q *QueryAPI) DOMs(ctx context.Context, filter store.Filter) ([]*store.StorageRef, error) {
	return q.manager.DOM().Query(ctx, filter)
}

// ConsoleLogs lists console collection refs matching filter.
func (q *QueryAPI) ConsoleLogs(ctx context.Context, filter store.ConsoleFilter) ([]*store.StorageRef, error) {
	return q.manager.Console().Query(ctx, filter)
}

// SearchConsole text-searches console collections narrowed by filter.
func (q *QueryAPI) SearchConsole(ctx context.Context, text string, filter store.ConsoleFilter) ([]store.ConsoleSearchResult, error) {
	return q.manager.SearchConsole(ctx, text, filter)
}

// ConsoleStats aggregates console summaries across all collections.
func (q *QueryAPI) ConsoleStats(ctx context.Context) (*store.ConsoleGlobalStats, error) {
	return q.manager.Console().GetGlobalStats(ctx)
}

// Cleanup deletes artifacts per the options and compacts secondary
// indexes.
func (q *QueryAPI) Cleanup(ctx context.Context, opts store.CleanupOptions) (*store.CleanupResult, error) {
	return q.manager.Cleanup(ctx, opts)
}
