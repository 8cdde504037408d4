package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

func newTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()

	s := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func sampleManifest(name string) *CheckpointManifest {
	return &CheckpointManifest{
		Name: name,
		URL:  "https://example.com",
		State: CheckpointState{
			DOMID:        "dom_1",
			ScreenshotID: "shot_1",
			ConsoleID:    "console_1",
		},
		Metadata: CheckpointMetadata{
			Tags: []string{"smoke", "landing"},
		},
	}
}

func TestCheckpointStore_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	assert.Equal(t, CategoryCheckpoint, ref.Category)
	assert.Equal(t, "home", ref.Tag(TagName))
	assert.Equal(t, "true", ref.Tag(TagHasScreenshot))
	assert.Equal(t, "true", ref.Tag(TagHasDOM))
	assert.Equal(t, "true", ref.Tag(TagHasConsole))
	assert.Equal(t, "true", ref.Tag(UserTagPrefix+"smoke"))

	manifest, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "home", manifest.Name)
	assert.Equal(t, "dom_1", manifest.State.DOMID)
	assert.False(t, manifest.Timestamp.IsZero())
}

func TestCheckpointStore_GetByName_MostRecentWins(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	_, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)
	second, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	ref, err := s.GetByName(ctx, "home")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, second.Key(), ref.Key())
}

func TestCheckpointStore_GetByName_Unknown(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestCheckpointStore_Update_RenameMovesNameIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("old-name"))
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, ref, &CheckpointUpdate{Name: "new-name"}))

	byNew, err := s.GetByName(ctx, "new-name")
	require.NoError(t, err)
	require.NotNil(t, byNew)
	assert.Equal(t, ref.Key(), byNew.Key())

	// The old name is deleted, not reassigned.
	byOld, err := s.GetByName(ctx, "old-name")
	require.NoError(t, err)
	assert.Nil(t, byOld)
}

func TestCheckpointStore_Update_MergesShallowly(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, ref, &CheckpointUpdate{
		State:    &CheckpointState{ScreenshotID: "shot_2"},
		Metadata: &CheckpointMetadata{Description: "after deploy"},
	}))

	manifest, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "shot_2", manifest.State.ScreenshotID)
	assert.Equal(t, "dom_1", manifest.State.DOMID, "untouched state keys survive")
	assert.Equal(t, "after deploy", manifest.Metadata.Description)
	assert.Equal(t, []string{"smoke", "landing"}, manifest.Metadata.Tags)
}

func TestCheckpointStore_QueryByTag(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)
	plain := sampleManifest("about")
	plain.Metadata.Tags = nil
	_, err = s.Store(ctx, plain)
	require.NoError(t, err)

	refs, err := s.QueryByTag(ctx, "smoke")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.Key(), refs[0].Key())
}

func TestCheckpointStore_QueryByTag_StaleIDsSkipped(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)
	_, _, err = s.Delete(ctx, ref, false)
	require.NoError(t, err)

	refs, err := s.QueryByTag(ctx, "smoke")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestCheckpointStore_Compare(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	m1 := sampleManifest("a")
	m1.State.CustomData = map[string]any{"cartItems": 3, "user": "anna"}
	r1, err := s.Store(ctx, m1)
	require.NoError(t, err)

	m2 := sampleManifest("b")
	m2.State.ScreenshotID = "shot_other"
	m2.State.CustomData = map[string]any{"cartItems": 5, "user": "anna"}
	r2, err := s.Store(ctx, m2)
	require.NoError(t, err)

	diff, err := s.Compare(ctx, r1, r2)
	require.NoError(t, err)
	assert.False(t, diff.Differences.DOM)
	assert.True(t, diff.Differences.Screenshot)
	assert.False(t, diff.Differences.Console)
	assert.Equal(t, []string{"cartItems"}, diff.Differences.Custom)
}

func TestCheckpointStore_Clone(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	cloneRef, err := s.Clone(ctx, ref, "home-copy")
	require.NoError(t, err)
	assert.NotEqual(t, ref.Key(), cloneRef.Key())

	clone, err := s.Retrieve(ctx, cloneRef)
	require.NoError(t, err)
	assert.Equal(t, "home-copy", clone.Name)
	assert.Equal(t, "dom_1", clone.State.DOMID, "sibling references are shared")

	byName, err := s.GetByName(ctx, "home-copy")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, cloneRef.Key(), byName.Key())
}

func TestCheckpointStore_GetHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.Store(ctx, sampleManifest("home"))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	other := sampleManifest("elsewhere")
	other.URL = "https://other.test"
	_, err := s.Store(ctx, other)
	require.NoError(t, err)

	refs, err := s.GetHistory(ctx, "https://example.com", 2)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.True(t, refs[0].Timestamp.After(refs[1].Timestamp) || refs[0].Timestamp.Equal(refs[1].Timestamp))
}

func TestCheckpointStore_GetAllTags(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	_, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	tags, err := s.GetAllTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"landing", "smoke"}, tags)
}

func TestCheckpointStore_Delete_ReturnsRelatedIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestCheckpointStore(t)

	ref, err := s.Store(ctx, sampleManifest("home"))
	require.NoError(t, err)

	freed, related, err := s.Delete(ctx, ref, true)
	require.NoError(t, err)
	assert.Greater(t, freed, int64(0))
	require.NotNil(t, related)
	assert.Equal(t, "dom_1", related.DOMID)
	assert.Equal(t, "shot_1", related.ScreenshotID)
	assert.Equal(t, "console_1", related.ConsoleID)

	_, err = s.Get(ctx, ref.Key())
	assert.True(t, oerrors.IsNotFound(err))

	byName, err := s.GetByName(ctx, "home")
	require.NoError(t, err)
	assert.Nil(t, byName)
}

func TestCheckpointStore_Store_RequiresName(t *testing.T) {
	s := newTestCheckpointStore(t)

	_, err := s.Store(context.Background(), &CheckpointManifest{URL: "https://x.test"})
	require.Error(t, err)
	assert.True(t, oerrors.IsInvalidPayload(err))
}
