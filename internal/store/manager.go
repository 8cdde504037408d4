package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

// Manager is the single entry point composing the artifact stores. It
// owns the shared base directory, fans captures out to the content
// stores, and provides global stats, cleanup, and export/import.
type Manager struct {
	cfg    config.StorageConfig
	logger *slog.Logger

	dom         *DOMStore
	screenshots *ScreenshotStore
	console     *ConsoleStore
	checkpoints *CheckpointStore
	diffs       *DiffStore

	mu          sync.Mutex
	initialized bool
}

// CaptureInput is the raw page state handed to CaptureCheckpoint.
// Absent payloads are skipped; only Name is required.
type CaptureInput struct {
	Name        string
	URL         string
	HTML        string
	Screenshot  []byte
	ConsoleLogs []ConsoleEntry
	CustomData  map[string]any
	Tags        []string
	Description string
	Viewport    *Viewport
	UserAgent   string
}

// LoadedCheckpoint is a manifest plus its best-effort loaded payloads.
type LoadedCheckpoint struct {
	Ref         *StorageRef
	Manifest    *CheckpointManifest
	DOM         string
	Screenshot  []byte
	ConsoleLogs []ConsoleEntry
}

// NewManager builds a manager and its stores from storage config.
func NewManager(cfg config.StorageConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dom, err := NewDOMStore(cfg.BaseDir, cfg.DOMChunkSize, logger)
	if err != nil {
		return nil, err
	}
	shots, err := NewScreenshotStore(cfg.BaseDir, cfg.ThumbnailWidth, cfg.ThumbnailHeight, cfg.Quality, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		dom:         dom,
		screenshots: shots,
		console:     NewConsoleStore(cfg.BaseDir, logger),
		checkpoints: NewCheckpointStore(cfg.BaseDir, logger),
		diffs:       NewDiffStore(cfg.BaseDir, logger),
	}, nil
}

// Initialize creates the base layout and delegates to each store.
// Idempotent; concurrent calls converge on one initialization.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	if err := os.MkdirAll(m.cfg.BaseDir, 0o755); err != nil {
		return errors.IO("Manager.Initialize", m.cfg.BaseDir, err)
	}
	for _, init := range []func(context.Context) error{
		m.dom.Initialize,
		m.screenshots.Initialize,
		m.console.Initialize,
		m.checkpoints.Initialize,
		m.diffs.Initialize,
	} {
		if err := init(ctx); err != nil {
			return err
		}
	}

	m.initialized = true
	m.logger.Info("storage initialized", slog.String("base_dir", m.cfg.BaseDir))
	return nil
}

// BaseDir returns the storage root.
func (m *Manager) BaseDir() string { return m.cfg.BaseDir }

// --- store forwarding ---

// StoreDOM persists an HTML snapshot.
func (m *Manager) StoreDOM(ctx context.Context, html string, meta *DOMMetadata) (*StorageRef, error) {
	return m.dom.Store(ctx, html, meta)
}

// RetrieveDOM returns a stored HTML snapshot.
func (m *Manager) RetrieveDOM(ctx context.Context, ref *StorageRef) (string, error) {
	return m.dom.Retrieve(ctx, ref)
}

// QueryDOMSelector runs a CSS selector against a stored snapshot.
func (m *Manager) QueryDOMSelector(ctx context.Context, ref *StorageRef, selector string) ([]SelectorMatch, error) {
	return m.dom.QueryBySelector(ctx, ref, selector)
}

// GetDOMStats reports a stored snapshot's header summary.
func (m *Manager) GetDOMStats(ctx context.Context, ref *StorageRef) (*DOMStats, error) {
	return m.dom.GetStats(ctx, ref)
}

// GetDOM resolves a DOM id to its ref.
func (m *Manager) GetDOM(ctx context.Context, id string) (*StorageRef, error) {
	return m.dom.Get(ctx, id)
}

// StoreScreenshot persists image bytes.
func (m *Manager) StoreScreenshot(ctx context.Context, data []byte, meta *ScreenshotMetadata) (*StorageRef, error) {
	return m.screenshots.Store(ctx, data, meta)
}

// RetrieveScreenshot returns stored image bytes.
func (m *Manager) RetrieveScreenshot(ctx context.Context, ref *StorageRef) ([]byte, error) {
	return m.screenshots.Retrieve(ctx, ref)
}

// RetrieveThumbnail returns a screenshot's thumbnail bytes.
func (m *Manager) RetrieveThumbnail(ctx context.Context, ref *StorageRef) ([]byte, error) {
	return m.screenshots.RetrieveThumbnail(ctx, ref)
}

// CompareScreenshots pixel-compares two stored screenshots.
func (m *Manager) CompareScreenshots(ctx context.Context, ref1, ref2 *StorageRef, opts CompareOptions) (*CompareResult, error) {
	return m.screenshots.Compare(ctx, ref1, ref2, opts)
}

// GetScreenshot resolves a screenshot id to its ref.
func (m *Manager) GetScreenshot(ctx context.Context, id string) (*StorageRef, error) {
	return m.screenshots.Get(ctx, id)
}

// StoreConsole persists a console entry stream.
func (m *Manager) StoreConsole(ctx context.Context, entries []ConsoleEntry, meta *ConsoleMetadata) (*StorageRef, error) {
	return m.console.Store(ctx, entries, meta)
}

// RetrieveConsole returns a stored entry stream.
func (m *Manager) RetrieveConsole(ctx context.Context, ref *StorageRef) ([]ConsoleEntry, error) {
	return m.console.Retrieve(ctx, ref)
}

// GetConsoleSummary returns the summary precomputed at store time.
func (m *Manager) GetConsoleSummary(ctx context.Context, ref *StorageRef) (*ConsoleSummary, error) {
	return m.console.GetSummary(ctx, ref)
}

// GetConsole resolves a console id to its ref.
func (m *Manager) GetConsole(ctx context.Context, id string) (*StorageRef, error) {
	return m.console.Get(ctx, id)
}

// SearchConsole text-searches stored collections.
func (m *Manager) SearchConsole(ctx context.Context, text string, filter ConsoleFilter) ([]ConsoleSearchResult, error) {
	return m.console.Search(ctx, text, filter)
}

// StoreCheckpoint persists a manifest directly.
func (m *Manager) StoreCheckpoint(ctx context.Context, manifest *CheckpointManifest) (*StorageRef, error) {
	return m.checkpoints.Store(ctx, manifest)
}

// RetrieveCheckpoint returns a stored manifest.
func (m *Manager) RetrieveCheckpoint(ctx context.Context, ref *StorageRef) (*CheckpointManifest, error) {
	return m.checkpoints.Retrieve(ctx, ref)
}

// GetCheckpointByName resolves a name to its most recent checkpoint.
func (m *Manager) GetCheckpointByName(ctx context.Context, name string) (*StorageRef, error) {
	return m.checkpoints.GetByName(ctx, name)
}

// StoreVisualDiff persists an encoded diff overlay.
func (m *Manager) StoreVisualDiff(ctx context.Context, data []byte, tags map[string]string) (*StorageRef, error) {
	return m.diffs.Store(ctx, data, tags)
}

// RetrieveVisualDiff returns a stored diff overlay.
func (m *Manager) RetrieveVisualDiff(ctx context.Context, ref *StorageRef) ([]byte, error) {
	return m.diffs.Retrieve(ctx, ref)
}

// DOM exposes the DOM store for query composition.
func (m *Manager) DOM() *DOMStore { return m.dom }

// Screenshots exposes the screenshot store for query composition.
func (m *Manager) Screenshots() *ScreenshotStore { return m.screenshots }

// Console exposes the console store for query composition.
func (m *Manager) Console() *ConsoleStore { return m.console }

// Checkpoints exposes the checkpoint store for query composition.
func (m *Manager) Checkpoints() *CheckpointStore { return m.checkpoints }

// Diffs exposes the visual-diff store for query composition.
func (m *Manager) Diffs() *DiffStore { return m.diffs }

// CaptureCheckpoint stores each present payload in its own store in
// parallel, then writes a manifest pointing at them. Sibling writes are
// not transactional: the first failure propagates and earlier successes
// stay behind as orphans for Cleanup to reclaim.
func (m *Manager) CaptureCheckpoint(ctx context.Context, input CaptureInput) (*StorageRef, error) {
	const op = "Manager.CaptureCheckpoint"

	if input.Name == "" {
		return nil, errors.InvalidPayload(op, "capture requires a name", nil)
	}
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	var (
		domRef     *StorageRef
		shotRef    *StorageRef
		consoleRef *StorageRef
	)

	g, gctx := errgroup.WithContext(ctx)
	if input.HTML != "" {
		g.Go(func() error {
			ref, err := m.dom.Store(gctx, input.HTML, &DOMMetadata{URL: input.URL})
			domRef = ref
			return err
		})
	}
	if len(input.Screenshot) > 0 {
		g.Go(func() error {
			ref, err := m.screenshots.Store(gctx, input.Screenshot, &ScreenshotMetadata{
				URL:      input.URL,
				Viewport: input.Viewport,
			})
			shotRef = ref
			return err
		})
	}
	if len(input.ConsoleLogs) > 0 {
		g.Go(func() error {
			ref, err := m.console.Store(gctx, input.ConsoleLogs, &ConsoleMetadata{URL: input.URL})
			consoleRef = ref
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := &CheckpointManifest{
		Name:      input.Name,
		URL:       input.URL,
		Timestamp: time.Now().UTC(),
		State: CheckpointState{
			CustomData: input.CustomData,
		},
		Metadata: CheckpointMetadata{
			Description: input.Description,
			Tags:        input.Tags,
			Viewport:    input.Viewport,
			UserAgent:   input.UserAgent,
		},
	}
	if domRef != nil {
		manifest.State.DOMID = domRef.Key()
	}
	if shotRef != nil {
		manifest.State.ScreenshotID = shotRef.Key()
	}
	if consoleRef != nil {
		manifest.State.ConsoleID = consoleRef.Key()
	}

	ref, err := m.checkpoints.Store(ctx, manifest)
	if err != nil {
		return nil, err
	}

	m.logger.Info("captured checkpoint",
		slog.String("name", input.Name),
		slog.String("url", input.URL),
		slog.String("id", ref.Key()))
	return ref, nil
}

// LoadCheckpoint loads a manifest and best-effort loads each referenced
// sibling item, silently skipping missing ones.
func (m *Manager) LoadCheckpoint(ctx context.Context, ref *StorageRef) (*LoadedCheckpoint, error) {
	manifest, err := m.checkpoints.Retrieve(ctx, ref)
	if err != nil {
		return nil, err
	}

	loaded := &LoadedCheckpoint{Ref: ref, Manifest: manifest}
	if id := manifest.State.DOMID; id != "" {
		if domRef, err := m.dom.Get(ctx, id); err == nil {
			if html, err := m.dom.Retrieve(ctx, domRef); err == nil {
				loaded.DOM = html
			}
		}
	}
	if id := manifest.State.ScreenshotID; id != "" {
		if shotRef, err := m.screenshots.Get(ctx, id); err == nil {
			if data, err := m.screenshots.Retrieve(ctx, shotRef); err == nil {
				loaded.Screenshot = data
			}
		}
	}
	if id := manifest.State.ConsoleID; id != "" {
		if conRef, err := m.console.Get(ctx, id); err == nil {
			if entries, err := m.console.Retrieve(ctx, conRef); err == nil {
				loaded.ConsoleLogs = entries
			}
		}
	}
	return loaded, nil
}

// DeleteCheckpoint removes a checkpoint and, when requested, the
// sibling items its manifest referenced.
func (m *Manager) DeleteCheckpoint(ctx context.Context, ref *StorageRef, deleteRelatedData bool) (int64, error) {
	freed, related, err := m.checkpoints.Delete(ctx, ref, deleteRelatedData)
	if err != nil {
		return freed, err
	}
	if related == nil {
		return freed, nil
	}

	if related.DOMID != "" {
		if n, err := m.dom.Delete(ctx, related.DOMID); err == nil {
			freed += n
		}
	}
	if related.ScreenshotID != "" {
		if n, err := m.screenshots.Delete(ctx, related.ScreenshotID); err == nil {
			freed += n
		}
	}
	if related.ConsoleID != "" {
		if n, err := m.console.Delete(ctx, related.ConsoleID); err == nil {
			freed += n
		}
	}
	return freed, nil
}

// GetStats reads per-store counts from the main indexes and walks the
// base directory for total size and last modification time.
func (m *Manager) GetStats(ctx context.Context) (*StorageStats, error) {
	const op = "Manager.GetStats"

	stats := &StorageStats{}
	counts := map[Category]*int{
		CategoryCheckpoint: &stats.Checkpoints,
		CategoryScreenshot: &stats.Screenshots,
		CategoryHTML:       &stats.DOMs,
		CategoryConsole:    &stats.ConsoleLogs,
		CategoryVisualDiff: &stats.VisualDiffs,
	}
	for cat, base := range m.bases() {
		index, err := base.loadIndex(op)
		if err != nil {
			return nil, err
		}
		*counts[cat] = len(index)
	}

	err := filepath.Walk(m.cfg.BaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		stats.TotalSize += info.Size()
		if info.ModTime().After(stats.LastModified) {
			stats.LastModified = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, errors.IO(op, m.cfg.BaseDir, err)
	}
	return stats, nil
}

// Cleanup deletes items per selected type: filter by age, keep the
// newest KeepLast, delete the rest, then compact secondary indexes.
// Types run in parallel; the result accumulates across all of them.
func (m *Manager) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	types := opts.Types
	if len(types) == 0 {
		types = Categories
	}

	var (
		mu     sync.Mutex
		result CleanupResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range types {
		g.Go(func() error {
			deleted, freed, err := m.cleanupCategory(gctx, cat, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Deleted += deleted
			result.FreedSpace += freed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := m.console.CompactIndexes(ctx); err != nil {
		m.logger.Warn("console index compaction failed", slog.String("error", err.Error()))
	}
	if err := m.checkpoints.CompactIndexes(ctx); err != nil {
		m.logger.Warn("checkpoint index compaction failed", slog.String("error", err.Error()))
	}

	m.logger.Info("cleanup finished",
		slog.Int("deleted", result.Deleted),
		slog.Int64("freed", result.FreedSpace))
	return &result, nil
}

func (m *Manager) cleanupCategory(ctx context.Context, cat Category, opts CleanupOptions) (int, int64, error) {
	base := m.bases()[cat]
	if base == nil {
		return 0, 0, nil
	}

	refs, err := base.listRefs("Manager.Cleanup", Filter{})
	if err != nil {
		return 0, 0, err
	}

	cutoff := time.Time{}
	if opts.OlderThan > 0 {
		cutoff = time.Now().Add(-opts.OlderThan)
	}

	// refs are newest-first; the first KeepLast always survive.
	var deleted int
	var freed int64
	for i, ref := range refs {
		if opts.KeepLast > 0 && i < opts.KeepLast {
			continue
		}
		if !cutoff.IsZero() && ref.Timestamp.After(cutoff) {
			continue
		}
		if opts.KeepLast == 0 && cutoff.IsZero() {
			// No criteria selects nothing, not everything.
			continue
		}

		n, err := m.deleteByCategory(ctx, cat, ref)
		if err != nil {
			return deleted, freed, err
		}
		deleted++
		freed += n
	}
	return deleted, freed, nil
}

func (m *Manager) deleteByCategory(ctx context.Context, cat Category, ref *StorageRef) (int64, error) {
	switch cat {
	case CategoryHTML:
		return m.dom.Delete(ctx, ref.Key())
	case CategoryScreenshot:
		return m.screenshots.Delete(ctx, ref.Key())
	case CategoryConsole:
		return m.console.Delete(ctx, ref.Key())
	case CategoryCheckpoint:
		n, _, err := m.checkpoints.Delete(ctx, ref, false)
		return n, err
	case CategoryVisualDiff:
		return m.diffs.Delete(ctx, ref.Key())
	default:
		return 0, nil
	}
}

// Export copies the entire storage tree to dest.
func (m *Manager) Export(ctx context.Context, dest string) error {
	const op = "Manager.Export"
	if err := copyTree(m.cfg.BaseDir, dest); err != nil {
		return errors.IO(op, dest, err)
	}
	m.logger.Info("exported storage", slog.String("dest", dest))
	return nil
}

// Import copies a storage tree from src. Without merge the current
// contents are replaced and the manager re-initializes.
func (m *Manager) Import(ctx context.Context, src string, merge bool) error {
	const op = "Manager.Import"

	if _, err := os.Stat(src); err != nil {
		return errors.IO(op, src, err)
	}

	if !merge {
		m.mu.Lock()
		if err := os.RemoveAll(m.cfg.BaseDir); err != nil {
			m.mu.Unlock()
			return errors.IO(op, m.cfg.BaseDir, err)
		}
		m.initialized = false
		m.mu.Unlock()
		if err := m.Initialize(ctx); err != nil {
			return err
		}
	}

	if err := copyTree(src, m.cfg.BaseDir); err != nil {
		return errors.IO(op, src, err)
	}
	m.logger.Info("imported storage", slog.String("src", src), slog.Bool("merge", merge))
	return nil
}

func (m *Manager) bases() map[Category]*baseStore {
	return map[Category]*baseStore{
		CategoryHTML:       m.dom.base,
		CategoryScreenshot: m.screenshots.base,
		CategoryConsole:    m.console.base,
		CategoryCheckpoint: m.checkpoints.base,
		CategoryVisualDiff: m.diffs.base,
	}
}

// copyTree recursively copies a directory.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}
