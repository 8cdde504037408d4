package store

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
)

// solidPNG renders a w x h image filled with c.
func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func testStorageConfig(t *testing.T) config.StorageConfig {
	t.Helper()
	return config.StorageConfig{
		BaseDir:         t.TempDir(),
		DOMChunkSize:    config.DefaultDOMChunkSize,
		ThumbnailWidth:  config.DefaultThumbnailWidth,
		ThumbnailHeight: config.DefaultThumbnailHeight,
		Quality:         config.DefaultQuality,
	}
}

func testManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(testStorageConfig(t), slog.Default())
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

const sampleHTML = `<html><head><title>T</title></head><body><p>A</p><p>B</p></body></html>`
