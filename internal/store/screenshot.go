package store

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/orisano/pixelmatch"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp decoder

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

const (
	screenshotNamespace  = "screenshots"
	screenshotIDPrefix   = "shot"
	decodedImageCache    = 16
	defaultPixelMatchTol = 0.1
)

// ScreenshotStore persists captured images, generates thumbnails, and
// performs pixel-accurate comparisons.
type ScreenshotStore struct {
	base    *baseStore
	thumbW  int
	thumbH  int
	quality int
	logger  *slog.Logger

	// decoded caches decoded images by id for repeated comparisons.
	decoded *lru.Cache[string, image.Image]
}

// NewScreenshotStore creates a screenshot store rooted at baseDir.
// quality applies to lossy encoding (jpeg) on convert and thumbnails.
func NewScreenshotStore(baseDir string, thumbW, thumbH, quality int, logger *slog.Logger) (*ScreenshotStore, error) {
	if thumbW < 16 {
		thumbW = 320
	}
	if thumbH < 16 {
		thumbH = 240
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, image.Image](decodedImageCache)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "ScreenshotStore.New", "image cache init failed", err)
	}
	return &ScreenshotStore{
		base:    newBaseStore(baseDir, screenshotNamespace, CategoryScreenshot, screenshotIDPrefix, logger),
		thumbW:  thumbW,
		thumbH:  thumbH,
		quality: quality,
		logger:  logger,
		decoded: cache,
	}, nil
}

// Initialize creates the store directory.
func (s *ScreenshotStore) Initialize(ctx context.Context) error {
	return s.base.initialize()
}

// Store decodes and persists an image, generating a thumbnail item
// recorded in the returned ref's thumbnailId tag.
func (s *ScreenshotStore) Store(ctx context.Context, data []byte, meta *ScreenshotMetadata) (*StorageRef, error) {
	return s.storeImage(ctx, "ScreenshotStore.Store", data, meta, true)
}

func (s *ScreenshotStore) storeImage(ctx context.Context, op string, data []byte, meta *ScreenshotMetadata, withThumbnail bool) (*StorageRef, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InvalidPayload(op, "image could not be decoded", err)
	}
	if format != "png" && format != "jpeg" && format != "webp" {
		return nil, errors.InvalidPayload(op, fmt.Sprintf("unsupported image format %q", format), nil)
	}

	id := s.base.newID()
	hash, err := s.base.writePayload(op, id, format, data)
	if err != nil {
		return nil, err
	}

	url := ""
	if meta != nil {
		url = meta.URL
	}
	itemMeta := ScreenshotMeta{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		URL:    url,
	}
	if meta != nil {
		itemMeta.Viewport = meta.Viewport
		itemMeta.DeviceScaleFactor = meta.DeviceScaleFactor
	}

	tags := map[string]string{
		TagURL:    url,
		TagWidth:  strconv.Itoa(cfg.Width),
		TagHeight: strconv.Itoa(cfg.Height),
		TagFormat: format,
	}

	if withThumbnail {
		thumbRef, err := s.storeThumbnail(ctx, op, data, format, url)
		if err != nil {
			return nil, err
		}
		itemMeta.ThumbnailID = thumbRef.Key()
		tags[TagThumbnailID] = thumbRef.Key()
	}

	if err := s.base.writeJSON(op, s.base.itemPath(id, "meta.json"), itemMeta); err != nil {
		return nil, err
	}

	ref := s.base.createRef(id, format, int64(len(data)), hash, tags)
	if err := s.base.putRef(op, ref); err != nil {
		return nil, err
	}

	s.logger.Debug("stored screenshot",
		slog.String("id", id),
		slog.String("format", format),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height))
	return ref, nil
}

// storeThumbnail scales the image so it fits the configured bounds,
// preserving aspect and never enlarging, and stores it as its own item.
func (s *ScreenshotStore) storeThumbnail(ctx context.Context, op string, data []byte, format, url string) (*StorageRef, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InvalidPayload(op, "image could not be decoded for thumbnail", err)
	}

	scaled := scaleToFit(img, s.thumbW, s.thumbH)
	encoded, err := s.encode(op, scaled, format)
	if err != nil {
		return nil, err
	}
	return s.storeImage(ctx, op, encoded, &ScreenshotMetadata{URL: url}, false)
}

// Retrieve returns the stored image bytes after integrity verification.
func (s *ScreenshotStore) Retrieve(ctx context.Context, ref *StorageRef) ([]byte, error) {
	return s.base.readPayload("ScreenshotStore.Retrieve", ref, s.ext(ref))
}

// RetrieveThumbnail returns the thumbnail item's bytes.
func (s *ScreenshotStore) RetrieveThumbnail(ctx context.Context, ref *StorageRef) ([]byte, error) {
	const op = "ScreenshotStore.RetrieveThumbnail"

	thumbID := ref.Tag(TagThumbnailID)
	if thumbID == "" {
		return nil, errors.NotFound(op, ref.Key()).WithDetail("reason", "no thumbnail recorded")
	}
	thumbRef, err := s.base.getRef(op, thumbID)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, thumbRef)
}

// Compare runs a YIQ-delta pixel comparison of two stored screenshots.
// Images must have equal dimensions; unequal sizes are an error, never
// silently resized.
func (s *ScreenshotStore) Compare(ctx context.Context, ref1, ref2 *StorageRef, opts CompareOptions) (*CompareResult, error) {
	const op = "ScreenshotStore.Compare"

	img1, err := s.decodedImage(ctx, op, ref1)
	if err != nil {
		return nil, err
	}
	img2, err := s.decodedImage(ctx, op, ref2)
	if err != nil {
		return nil, err
	}

	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Dx() != b2.Dx() || b1.Dy() != b2.Dy() {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, op,
			fmt.Sprintf("cannot compare %dx%d against %dx%d", b1.Dx(), b1.Dy(), b2.Dx(), b2.Dy())).
			WithDetail("id", ref1.Key()).
			WithDetail("other", ref2.Key())
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultPixelMatchTol
	}

	matchOpts := []pixelmatch.MatchOption{pixelmatch.Threshold(threshold)}
	if opts.IncludeAA {
		matchOpts = append(matchOpts, pixelmatch.IncludeAntiAlias)
	}
	var diffImg image.Image
	if opts.IncludeDiffImage {
		matchOpts = append(matchOpts, pixelmatch.WriteTo(&diffImg))
	}

	differing, err := pixelmatch.MatchPixel(img1, img2, matchOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, op, "pixel comparison failed", err)
	}

	total := b1.Dx() * b1.Dy()
	result := &CompareResult{
		DifferentPixels: differing,
		TotalPixels:     total,
		Width:           b1.Dx(),
		Height:          b1.Dy(),
	}
	if total > 0 {
		result.DiffPercentage = float64(differing) / float64(total) * 100
	}

	if opts.IncludeDiffImage && diffImg != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, diffImg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, op, "diff image could not be encoded", err)
		}
		result.DiffImage = buf.Bytes()
	}
	return result, nil
}

// Resize scales a stored screenshot to fit within w x h, preserving
// aspect and never enlarging. h == 0 bounds width only.
func (s *ScreenshotStore) Resize(ctx context.Context, ref *StorageRef, w, h int) ([]byte, error) {
	const op = "ScreenshotStore.Resize"

	if w < 1 {
		return nil, errors.InvalidPayload(op, "target width must be >= 1", nil)
	}
	img, err := s.decodedImage(ctx, op, ref)
	if err != nil {
		return nil, err
	}
	if h < 1 {
		h = img.Bounds().Dy()
	}

	scaled := scaleToFit(img, w, h)
	format := s.ext(ref)
	if format == "webp" {
		format = "png"
	}
	return s.encode(op, scaled, format)
}

// Convert re-encodes a stored screenshot. Lossy targets use the store's
// configured quality. Encoding to webp is not supported.
func (s *ScreenshotStore) Convert(ctx context.Context, ref *StorageRef, format string) ([]byte, error) {
	const op = "ScreenshotStore.Convert"

	switch format {
	case "jpg":
		format = "jpeg"
	case "png", "jpeg":
	case "webp":
		return nil, errors.InvalidPayload(op, "webp encoding is not supported", nil)
	default:
		return nil, errors.InvalidPayload(op, fmt.Sprintf("unsupported target format %q", format), nil)
	}

	img, err := s.decodedImage(ctx, op, ref)
	if err != nil {
		return nil, err
	}
	return s.encode(op, img, format)
}

// Query lists refs matching filter from the index alone.
func (s *ScreenshotStore) Query(ctx context.Context, filter Filter) ([]*StorageRef, error) {
	return s.base.listRefs("ScreenshotStore.Query", filter)
}

// Get resolves one id through the main index.
func (s *ScreenshotStore) Get(ctx context.Context, id string) (*StorageRef, error) {
	return s.base.getRef("ScreenshotStore.Get", id)
}

// Delete removes the screenshot, its thumbnail item, and index entries.
func (s *ScreenshotStore) Delete(ctx context.Context, id string) (int64, error) {
	const op = "ScreenshotStore.Delete"

	var freed int64
	if ref, err := s.base.getRef(op, id); err == nil {
		if thumbID := ref.Tag(TagThumbnailID); thumbID != "" {
			if err := s.base.removeRef(op, thumbID); err != nil {
				return 0, err
			}
			freed += s.base.removeFiles(thumbID)
			s.decoded.Remove(thumbID)
		}
	}

	if err := s.base.removeRef(op, id); err != nil {
		return freed, err
	}
	freed += s.base.removeFiles(id)
	s.decoded.Remove(id)
	return freed, nil
}

func (s *ScreenshotStore) ext(ref *StorageRef) string {
	format := ref.Tag(TagFormat)
	switch format {
	case "jpg":
		return "jpeg"
	case "":
		return "png"
	default:
		return format
	}
}

func (s *ScreenshotStore) decodedImage(ctx context.Context, op string, ref *StorageRef) (image.Image, error) {
	if img, ok := s.decoded.Get(ref.Key()); ok {
		return img, nil
	}

	data, err := s.base.readPayload(op, ref, s.ext(ref))
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.InvalidPayload(op, "stored image could not be decoded", err).
			WithDetail("id", ref.Key())
	}
	s.decoded.Add(ref.Key(), img)
	return img, nil
}

func (s *ScreenshotStore) encode(op string, img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality})
	case "png", "webp":
		// Decoded webp re-encodes as png; there is no Go webp encoder.
		err = png.Encode(&buf, img)
	default:
		return nil, errors.InvalidPayload(op, fmt.Sprintf("unsupported encode format %q", format), nil)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, op, "image could not be encoded", err)
	}
	return buf.Bytes(), nil
}

// scaleToFit scales img so it fits within w x h, preserving aspect and
// never enlarging. The original is returned when it already fits.
func scaleToFit(img image.Image, w, h int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= w && srcH <= h {
		return img
	}

	scaleW := float64(w) / float64(srcW)
	scaleH := float64(h) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	dstW := int(float64(srcW) * scale)
	dstH := int(float64(srcH) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
