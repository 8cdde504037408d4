package store

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

func newTestScreenshotStore(t *testing.T) *ScreenshotStore {
	t.Helper()

	s, err := NewScreenshotStore(t.TempDir(), 320, 240, 80, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestScreenshotStore_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	data := solidPNG(t, 100, 100, red)
	ref, err := s.Store(ctx, data, &ScreenshotMetadata{URL: "https://example.com"})
	require.NoError(t, err)

	assert.Equal(t, CategoryScreenshot, ref.Category)
	assert.Equal(t, "png", ref.Tag(TagFormat))
	assert.Equal(t, "100", ref.Tag(TagWidth))
	assert.Equal(t, "100", ref.Tag(TagHeight))
	assert.NotEmpty(t, ref.Tag(TagThumbnailID))

	got, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestScreenshotStore_IntegrityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	data := solidPNG(t, 50, 50, blue)
	ref, err := s.Store(ctx, data, nil)
	require.NoError(t, err)
	assert.Equal(t, hashBytes(data), ref.Hash)

	// Tampering with the payload must surface as an integrity failure.
	path := s.base.itemPath(ref.Key(), "png")
	require.NoError(t, os.WriteFile(path, append(data, 0x00), 0o644))

	_, err = s.Retrieve(ctx, ref)
	require.Error(t, err)
	assert.True(t, oerrors.IsIntegrity(err))
}

func TestScreenshotStore_Thumbnail(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 1280, 720, red), nil)
	require.NoError(t, err)

	thumb, err := s.RetrieveThumbnail(ctx, ref)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 320)
	assert.LessOrEqual(t, cfg.Height, 240)
	// 1280x720 capped by height would be 240 * 16/9 = 426 > 320, so width caps.
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 180, cfg.Height)
}

func TestScreenshotStore_Thumbnail_NeverEnlarges(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 64, 48, red), nil)
	require.NoError(t, err)

	thumb, err := s.RetrieveThumbnail(ctx, ref)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestScreenshotStore_Compare_Identical(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	data := solidPNG(t, 100, 100, red)
	r1, err := s.Store(ctx, data, nil)
	require.NoError(t, err)
	r2, err := s.Store(ctx, data, nil)
	require.NoError(t, err)

	result, err := s.Compare(ctx, r1, r2, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.DifferentPixels)
	assert.Equal(t, float64(0), result.DiffPercentage)
	assert.Equal(t, 10000, result.TotalPixels)
}

func TestScreenshotStore_Compare_SelfIsZero(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 60, 60, blue), nil)
	require.NoError(t, err)

	result, err := s.Compare(ctx, ref, ref, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.DifferentPixels)
	assert.Equal(t, float64(0), result.DiffPercentage)
}

func TestScreenshotStore_Compare_RedVsBlue(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	r1, err := s.Store(ctx, solidPNG(t, 100, 100, red), nil)
	require.NoError(t, err)
	r2, err := s.Store(ctx, solidPNG(t, 100, 100, blue), nil)
	require.NoError(t, err)

	result, err := s.Compare(ctx, r1, r2, CompareOptions{})
	require.NoError(t, err)
	assert.Greater(t, result.DiffPercentage, float64(90))
}

func TestScreenshotStore_Compare_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	r1, err := s.Store(ctx, solidPNG(t, 100, 100, red), nil)
	require.NoError(t, err)
	r2, err := s.Store(ctx, solidPNG(t, 50, 100, red), nil)
	require.NoError(t, err)

	_, err = s.Compare(ctx, r1, r2, CompareOptions{})
	require.Error(t, err)
	assert.True(t, oerrors.IsDimensionMismatch(err))
}

func TestScreenshotStore_Compare_DiffImage(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	r1, err := s.Store(ctx, solidPNG(t, 40, 40, red), nil)
	require.NoError(t, err)
	r2, err := s.Store(ctx, solidPNG(t, 40, 40, blue), nil)
	require.NoError(t, err)

	result, err := s.Compare(ctx, r1, r2, CompareOptions{IncludeDiffImage: true})
	require.NoError(t, err)
	require.NotEmpty(t, result.DiffImage)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(result.DiffImage))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestScreenshotStore_Resize(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 800, 600, red), nil)
	require.NoError(t, err)

	out, err := s.Resize(ctx, ref, 400, 400)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
}

func TestScreenshotStore_Resize_WithoutEnlargement(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 100, 80, red), nil)
	require.NoError(t, err)

	out, err := s.Resize(ctx, ref, 1000, 1000)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 80, cfg.Height)
}

func TestScreenshotStore_Convert(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 50, 50, red), nil)
	require.NoError(t, err)

	jpg, err := s.Convert(ctx, ref, "jpeg")
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(jpg))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	_, err = s.Convert(ctx, ref, "webp")
	require.Error(t, err)
	assert.True(t, oerrors.IsInvalidPayload(err))
}

func TestScreenshotStore_Store_Undecodable(t *testing.T) {
	s := newTestScreenshotStore(t)

	_, err := s.Store(context.Background(), []byte("not an image"), nil)
	require.Error(t, err)
	assert.True(t, oerrors.IsInvalidPayload(err))
}

func TestScreenshotStore_RefStaysSmall(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 640, 480, blue), nil)
	require.NoError(t, err)

	encoded, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.Less(t, len(encoded), 4096)
}

func TestScreenshotStore_Delete_RemovesThumbnail(t *testing.T) {
	ctx := context.Background()
	s := newTestScreenshotStore(t)

	ref, err := s.Store(ctx, solidPNG(t, 100, 100, red), nil)
	require.NoError(t, err)
	thumbID := ref.Tag(TagThumbnailID)
	require.NotEmpty(t, thumbID)

	_, err = s.Delete(ctx, ref.Key())
	require.NoError(t, err)

	_, err = s.Get(ctx, ref.Key())
	assert.True(t, oerrors.IsNotFound(err))
	_, err = s.Get(ctx, thumbID)
	assert.True(t, oerrors.IsNotFound(err))
}
