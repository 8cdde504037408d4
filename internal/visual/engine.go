// Package visual implements the visual diff engine: region-masked,
// pixel-accurate comparison of browser screenshots with diff-image
// generation and hot-region analysis.
//
// The engine works on raw image bytes or storage refs and is
// independent of the screenshot store; stored diff overlays land in the
// visual_diff category through the storage manager.
package visual

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"strconv"

	"github.com/orisano/pixelmatch"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp decoder

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

const (
	defaultThreshold = 0.1

	// significantRegions tiling parameters.
	regionTileSize    = 50
	regionDiffPctGate = 5.0

	// channelTolerance widens diff-color matching when scanning the
	// produced overlay.
	channelTolerance = 10
)

// maskGray overwrites excluded regions in both images so they compare
// equal.
var maskGray = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// defaultDiffColor marks differing pixels in the overlay.
var defaultDiffColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// ImageInput is either raw encoded bytes or a ref resolved through the
// storage manager.
type ImageInput struct {
	Bytes []byte
	Ref   *store.StorageRef
}

// Options tunes a visual comparison.
type Options struct {
	// Threshold is the per-pixel YIQ tolerance in [0,1]. Zero uses the
	// engine default.
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences.
	IncludeAA bool
	// IncludeDiffImage stores the diff overlay and returns its ref.
	IncludeDiffImage bool
	// DiffColor overrides the overlay highlight color.
	DiffColor *color.RGBA
	// ExcludeRegions are masked to neutral gray in both images before
	// comparing. Coordinates may be absolute pixels or percentages.
	ExcludeRegions []Region
}

// Bounds is the minimal rectangle enclosing all differing pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SignificantRegion is a tile whose share of differing pixels exceeds
// the reporting gate.
type SignificantRegion struct {
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	DiffPercentage float64 `json:"diffPercentage"`
}

// Result reports a visual comparison.
type Result struct {
	DiffPercentage     float64             `json:"diffPercentage"`
	DifferentPixels    int                 `json:"differentPixels"`
	TotalPixels        int                 `json:"totalPixels"`
	Width              int                 `json:"width"`
	Height             int                 `json:"height"`
	Resized            bool                `json:"resized"`
	DiffImageRef       *store.StorageRef   `json:"diffImageRef,omitempty"`
	DiffBounds         *Bounds             `json:"diffBounds,omitempty"`
	SignificantRegions []SignificantRegion `json:"significantRegions,omitempty"`
}

// Engine performs visual comparisons.
type Engine struct {
	manager *store.Manager
	logger  *slog.Logger
}

// NewEngine creates a diff engine. The manager resolves ref inputs and
// stores generated overlays; it may be nil for pure byte comparisons
// without overlay storage.
func NewEngine(manager *store.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{manager: manager, logger: logger}
}

// Compare diffs current against baseline. Differing dimensions are
// normalized by resizing current to baseline's exact size before
// comparing.
func (e *Engine) Compare(ctx context.Context, baseline, current ImageInput, opts Options) (*Result, error) {
	const op = "VisualDiffEngine.Compare"

	baseImg, err := e.load(ctx, op, baseline)
	if err != nil {
		return nil, err
	}
	curImg, err := e.load(ctx, op, current)
	if err != nil {
		return nil, err
	}

	resized := false
	bb := baseImg.Bounds()
	if cb := curImg.Bounds(); cb.Dx() != bb.Dx() || cb.Dy() != bb.Dy() {
		curImg = stretchTo(curImg, bb.Dx(), bb.Dy())
		resized = true
	}

	baseRGBA := toRGBA(baseImg)
	curRGBA := toRGBA(curImg)
	for _, region := range opts.ExcludeRegions {
		rect := region.resolve(bb.Dx(), bb.Dy())
		maskRect(baseRGBA, rect)
		maskRect(curRGBA, rect)
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	diffColor := defaultDiffColor
	if opts.DiffColor != nil {
		diffColor = *opts.DiffColor
	}

	matchOpts := []pixelmatch.MatchOption{
		pixelmatch.Threshold(threshold),
		pixelmatch.DiffColor(diffColor),
	}
	if opts.IncludeAA {
		matchOpts = append(matchOpts, pixelmatch.IncludeAntiAlias)
	}
	var diffImg image.Image
	matchOpts = append(matchOpts, pixelmatch.WriteTo(&diffImg))

	differing, err := pixelmatch.MatchPixel(baseRGBA, curRGBA, matchOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, op, "pixel comparison failed", err)
	}

	total := bb.Dx() * bb.Dy()
	result := &Result{
		DifferentPixels: differing,
		TotalPixels:     total,
		Width:           bb.Dx(),
		Height:          bb.Dy(),
		Resized:         resized,
	}
	if total > 0 {
		result.DiffPercentage = float64(differing) / float64(total) * 100
	}

	if differing > 0 && diffImg != nil {
		result.DiffBounds = diffBounds(diffImg, diffColor)
		result.SignificantRegions = significantRegions(diffImg, diffColor)
	}

	if opts.IncludeDiffImage && diffImg != nil && e.manager != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, diffImg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, op, "diff overlay could not be encoded", err)
		}
		ref, err := e.manager.StoreVisualDiff(ctx, buf.Bytes(), map[string]string{
			store.TagWidth:  strconv.Itoa(bb.Dx()),
			store.TagHeight: strconv.Itoa(bb.Dy()),
		})
		if err != nil {
			return nil, err
		}
		result.DiffImageRef = ref
	}

	e.logger.Debug("visual comparison finished",
		slog.Int("differing", differing),
		slog.Int("total", total),
		slog.Bool("resized", resized))
	return result, nil
}

// load decodes an input, resolving refs through the manager.
func (e *Engine) load(ctx context.Context, op string, input ImageInput) (image.Image, error) {
	data := input.Bytes
	if data == nil && input.Ref != nil {
		if e.manager == nil {
			return nil, errors.New(errors.ErrCodeInternal, op, "ref input requires a storage manager")
		}
		var err error
		if input.Ref.Category == store.CategoryVisualDiff {
			data, err = e.manager.RetrieveVisualDiff(ctx, input.Ref)
		} else {
			data, err = e.manager.RetrieveScreenshot(ctx, input.Ref)
		}
		if err != nil {
			return nil, err
		}
	}
	if data == nil {
		return nil, errors.InvalidPayload(op, "no image provided", nil)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InvalidPayload(op, "image could not be decoded", err)
	}
	return img, nil
}

// stretchTo resizes img to exactly w x h, ignoring aspect.
func stretchTo(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

// maskRect paints a rectangle neutral gray. Out-of-bounds regions clamp
// to the image.
func maskRect(img *image.RGBA, rect image.Rectangle) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(img, rect, &image.Uniform{C: maskGray}, image.Point{}, draw.Src)
}

// matchesDiffColor reports whether a pixel is within the per-channel
// tolerance of the overlay highlight color.
func matchesDiffColor(c color.Color, diff color.RGBA) bool {
	r, g, b, _ := c.RGBA()
	dr := int(r >> 8)
	dg := int(g >> 8)
	db := int(b >> 8)
	return abs(dr-int(diff.R)) <= channelTolerance &&
		abs(dg-int(diff.G)) <= channelTolerance &&
		abs(db-int(diff.B)) <= channelTolerance
}

// diffBounds scans the overlay for the minimal rect enclosing pixels
// painted in the diff color.
func diffBounds(img image.Image, diff color.RGBA) *Bounds {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !matchesDiffColor(img.At(x, y), diff) {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < minX || maxY < minY {
		return nil
	}
	return &Bounds{
		X:      minX - b.Min.X,
		Y:      minY - b.Min.Y,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

// significantRegions tiles the overlay and reports tiles whose share of
// diff-colored pixels exceeds the gate, sorted by share descending.
func significantRegions(img image.Image, diff color.RGBA) []SignificantRegion {
	b := img.Bounds()
	var regions []SignificantRegion

	for ty := b.Min.Y; ty < b.Max.Y; ty += regionTileSize {
		for tx := b.Min.X; tx < b.Max.X; tx += regionTileSize {
			endX := tx + regionTileSize
			if endX > b.Max.X {
				endX = b.Max.X
			}
			endY := ty + regionTileSize
			if endY > b.Max.Y {
				endY = b.Max.Y
			}

			count := 0
			for y := ty; y < endY; y++ {
				for x := tx; x < endX; x++ {
					if matchesDiffColor(img.At(x, y), diff) {
						count++
					}
				}
			}

			area := (endX - tx) * (endY - ty)
			if area == 0 {
				continue
			}
			pct := float64(count) / float64(area) * 100
			if pct > regionDiffPctGate {
				regions = append(regions, SignificantRegion{
					X:              tx - b.Min.X,
					Y:              ty - b.Min.Y,
					Width:          endX - tx,
					Height:         endY - ty,
					DiffPercentage: pct,
				})
			}
		}
	}

	for i := 1; i < len(regions); i++ {
		for j := i; j > 0 && regions[j].DiffPercentage > regions[j-1].DiffPercentage; j-- {
			regions[j], regions[j-1] = regions[j-1], regions[j]
		}
	}
	return regions
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
