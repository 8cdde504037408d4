package oracle

import (
	"context"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

// CheckpointAPI composes checkpoint-level operations.
type CheckpointAPI struct {
	manager *store.Manager
}

// Capture stores the present payloads and writes a manifest pointing at
// them.
func (c *CheckpointAPI) Capture(ctx context.Context, input store.CaptureInput) (*store.StorageRef, error) {
	return c.manager.CaptureCheckpoint(ctx, input)
}

// Load returns a manifest plus its best-effort loaded payloads.
func (c *CheckpointAPI) Load(ctx context.Context, ref *store.StorageRef) (*store.LoadedCheckpoint, error) {
	return c.manager.LoadCheckpoint(ctx, ref)
}

// ByName resolves a name to its most recent checkpoint, or nil.
func (c *CheckpointAPI) ByName(ctx context.Context, name string) (*store.StorageRef, error) {
	return c.manager.GetCheckpointByName(ctx, name)
}

// History lists checkpoints captured for a URL, newest first.
func (c *CheckpointAPI) History(ctx context.Context, url string, limit int) ([]*store.StorageRef, error) {
	return c.manager.Checkpoints().GetHistory(ctx, url, limit)
}

// ByTag lists checkpoints carrying a user tag.
func (c *CheckpointAPI) ByTag(ctx context.Context, tag string) ([]*store.StorageRef, error) {
	return c.manager.Checkpoints().QueryByTag(ctx, tag)
}

// AllTags returns every user tag on a live checkpoint.
func (c *CheckpointAPI) AllTags(ctx context.Context) ([]string, error) {
	return c.manager.Checkpoints().GetAllTags(ctx)
}

// Compare reports which state sections differ between two checkpoints.
func (c *CheckpointAPI) Compare(ctx context.Context, ref1, ref2 *store.StorageRef) (*store.CheckpointDiff, error) {
	return c.manager.Checkpoints().Compare(ctx, ref1, ref2)
}

// Clone stores a copy of a checkpoint under a new name.
func (c *CheckpointAPI) Clone(ctx context.Context, ref *store.StorageRef, newName string) (*store.StorageRef, error) {
	return c.manager.Checkpoints().Clone(ctx, ref, newName)
}

// Update merges a partial manifest into a stored checkpoint.
func (c *CheckpointAPI) Update(ctx context.Context, ref *store.StorageRef, partial *store.CheckpointUpdate) error {
	return c.manager.Checkpoints().Update(ctx, ref, partial)
}

// Delete removes a checkpoint and, when requested, its sibling items.
func (c *CheckpointAPI) Delete(ctx context.Context, ref *store.StorageRef, deleteRelatedData bool) (int64, error) {
	return c.manager.DeleteCheckpoint(ctx, ref, deleteRelatedData)
}
