package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

const (
	consoleNamespace = "console"
	consoleIDPrefix  = "console"

	hasErrorsIndex   = "has_errors"
	hasWarningsIndex = "has_warnings"
	levelIndexPrefix = "level_index_"
)

// ConsoleStore persists console entry streams with precomputed
// summaries and per-level secondary indexes. Queries run entirely
// against indexes; collections load only for text search and entry
// retrieval.
type ConsoleStore struct {
	base   *baseStore
	logger *slog.Logger
}

// NewConsoleStore creates a console store rooted at baseDir.
func NewConsoleStore(baseDir string, logger *slog.Logger) *ConsoleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleStore{
		base:   newBaseStore(baseDir, consoleNamespace, CategoryConsole, consoleIDPrefix, logger),
		logger: logger,
	}
}

// Initialize creates the store directory.
func (s *ConsoleStore) Initialize(ctx context.Context) error {
	return s.base.initialize()
}

// Store persists an entry stream. The summary is computed once here and
// lands both inside the item and in the ref tags; level and error
// indexes are updated for every level present.
func (s *ConsoleStore) Store(ctx context.Context, entries []ConsoleEntry, meta *ConsoleMetadata) (*StorageRef, error) {
	const op = "ConsoleStore.Store"

	summary := summarize(entries)
	collection := ConsoleCollection{
		Entries: entries,
		Summary: summary,
	}
	if meta != nil {
		collection.Metadata = *meta
	}

	payload, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, op, "collection could not be marshalled", err)
	}

	id := s.base.newID()
	hash, err := s.base.writePayload(op, id, "json", payload)
	if err != nil {
		return nil, err
	}

	url := ""
	if meta != nil {
		url = meta.URL
	}
	ref := s.base.createRef(id, "json", int64(len(payload)), hash, map[string]string{
		TagURL:          url,
		TagTotal:        strconv.Itoa(summary.Total),
		TagErrorCount:   strconv.Itoa(summary.ErrorCount),
		TagWarningCount: strconv.Itoa(summary.WarningCount),
	})
	if err := s.base.putRef(op, ref); err != nil {
		return nil, err
	}

	for level, count := range summary.ByLevel {
		if count == 0 {
			continue
		}
		if err := s.base.appendListIndex(op, levelIndexPrefix+level, id); err != nil {
			return nil, err
		}
	}
	if summary.ErrorCount > 0 {
		if err := s.base.appendListIndex(op, hasErrorsIndex, id); err != nil {
			return nil, err
		}
	}
	if summary.WarningCount > 0 {
		if err := s.base.appendListIndex(op, hasWarningsIndex, id); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("stored console collection",
		slog.String("id", id),
		slog.Int("entries", summary.Total),
		slog.Int("errors", summary.ErrorCount))
	return ref, nil
}

// Retrieve returns the full entry stream.
func (s *ConsoleStore) Retrieve(ctx context.Context, ref *StorageRef) ([]ConsoleEntry, error) {
	collection, err := s.load("ConsoleStore.Retrieve", ref)
	if err != nil {
		return nil, err
	}
	return collection.Entries, nil
}

// RetrieveFiltered returns entries matching the filter predicates.
func (s *ConsoleStore) RetrieveFiltered(ctx context.Context, ref *StorageRef, filter ConsoleFilter) ([]ConsoleEntry, error) {
	entries, err := s.Retrieve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return filterEntries(entries, filter), nil
}

// GetErrors returns only the error-level entries.
func (s *ConsoleStore) GetErrors(ctx context.Context, ref *StorageRef) ([]ConsoleEntry, error) {
	return s.RetrieveFiltered(ctx, ref, ConsoleFilter{Levels: []string{LevelError}})
}

// GetWarnings returns only the warn-level entries.
func (s *ConsoleStore) GetWarnings(ctx context.Context, ref *StorageRef) ([]ConsoleEntry, error) {
	return s.RetrieveFiltered(ctx, ref, ConsoleFilter{Levels: []string{LevelWarn}})
}

// GetSummary returns the summary precomputed at store time.
func (s *ConsoleStore) GetSummary(ctx context.Context, ref *StorageRef) (*ConsoleSummary, error) {
	collection, err := s.load("ConsoleStore.GetSummary", ref)
	if err != nil {
		return nil, err
	}
	return &collection.Summary, nil
}

// Query narrows collections using indexes only; no payload is read.
func (s *ConsoleStore) Query(ctx context.Context, filter ConsoleFilter) ([]*StorageRef, error) {
	const op = "ConsoleStore.Query"

	index, err := s.base.loadIndex(op)
	if err != nil {
		return nil, err
	}

	// Level/error predicates narrow via secondary indexes first. Stale
	// ids whose item is gone simply drop out.
	allowed, err := s.allowedIDs(op, filter, index)
	if err != nil {
		return nil, err
	}

	// The limit applies only after every predicate; base listing stays
	// unbounded.
	refs, err := s.base.listRefs(op, Filter{URL: filter.URL})
	if err != nil {
		return nil, err
	}

	var out []*StorageRef
	for _, ref := range refs {
		if allowed != nil {
			if _, ok := allowed[ref.Key()]; !ok {
				continue
			}
		}
		if filter.StartTime != 0 || filter.EndTime != 0 {
			// Time range applies to the capture timestamp.
			ts := ref.Timestamp.UnixMilli()
			if filter.StartTime != 0 && ts < filter.StartTime {
				continue
			}
			if filter.EndTime != 0 && ts > filter.EndTime {
				continue
			}
		}
		out = append(out, ref)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// allowedIDs intersects the secondary-index id sets the filter demands.
// nil means no secondary predicate applies.
func (s *ConsoleStore) allowedIDs(op string, filter ConsoleFilter, index map[string]*StorageRef) (map[string]struct{}, error) {
	var sets [][]string

	if filter.HasErrors {
		ids, err := s.base.readListIndex(op, hasErrorsIndex)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ids)
	}
	if filter.HasWarnings {
		ids, err := s.base.readListIndex(op, hasWarningsIndex)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ids)
	}
	// Multiple levels match any-of: their index lists union into one set
	// before intersecting with the other predicates.
	if len(filter.Levels) > 0 {
		var union []string
		seen := make(map[string]bool)
		for _, level := range filter.Levels {
			ids, err := s.base.readListIndex(op, levelIndexPrefix+level)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					union = append(union, id)
				}
			}
		}
		sets = append(sets, union)
	}

	if len(sets) == 0 {
		return nil, nil
	}

	allowed := make(map[string]struct{})
	for _, id := range sets[0] {
		if _, ok := index[id]; ok {
			allowed[id] = struct{}{}
		}
	}
	for _, set := range sets[1:] {
		next := make(map[string]struct{})
		for _, id := range set {
			if _, ok := allowed[id]; ok {
				next[id] = struct{}{}
			}
		}
		allowed = next
	}
	return allowed, nil
}

// QueryByLevel lists collections containing at least one entry at level.
func (s *ConsoleStore) QueryByLevel(ctx context.Context, level string) ([]*StorageRef, error) {
	return s.Query(ctx, ConsoleFilter{Levels: []string{level}})
}

// Search loads collections that survive the filter predicates and
// returns those with case-insensitive substring matches on text.
func (s *ConsoleStore) Search(ctx context.Context, text string, filter ConsoleFilter) ([]ConsoleSearchResult, error) {
	refs, err := s.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)
	var results []ConsoleSearchResult
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "ConsoleStore.Search", "search cancelled", err)
		}
		entries, err := s.Retrieve(ctx, ref)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		var matches []ConsoleEntry
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Message), needle) {
				matches = append(matches, e)
			}
		}
		if len(matches) > 0 {
			results = append(results, ConsoleSearchResult{Ref: ref, Matches: matches})
		}
	}
	return results, nil
}

// GetGlobalStats aggregates summary tags across every collection,
// reading only the main index and the per-level indexes.
func (s *ConsoleStore) GetGlobalStats(ctx context.Context) (*ConsoleGlobalStats, error) {
	const op = "ConsoleStore.GetGlobalStats"

	index, err := s.base.loadIndex(op)
	if err != nil {
		return nil, err
	}

	stats := &ConsoleGlobalStats{ByLevel: make(map[string]int)}
	for _, ref := range index {
		stats.Collections++
		stats.TotalEntries += atoiTag(ref, TagTotal)
		stats.TotalErrors += atoiTag(ref, TagErrorCount)
		stats.TotalWarnings += atoiTag(ref, TagWarningCount)
	}

	for _, level := range ConsoleLevels {
		ids, err := s.base.readListIndex(op, levelIndexPrefix+level)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, id := range ids {
			if _, ok := index[id]; ok {
				count++
			}
		}
		if count > 0 {
			stats.ByLevel[level] = count
		}
	}
	return stats, nil
}

// Get resolves one id through the main index.
func (s *ConsoleStore) Get(ctx context.Context, id string) (*StorageRef, error) {
	return s.base.getRef("ConsoleStore.Get", id)
}

// Delete removes the collection and its main-index entry. Secondary
// indexes reconcile lazily at query time and shrink in CompactIndexes.
func (s *ConsoleStore) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.base.removeRef("ConsoleStore.Delete", id); err != nil {
		return 0, err
	}
	return s.base.removeFiles(id), nil
}

// CompactIndexes drops ids that no longer resolve from every secondary
// index file.
func (s *ConsoleStore) CompactIndexes(ctx context.Context) error {
	const op = "ConsoleStore.CompactIndexes"

	index, err := s.base.loadIndex(op)
	if err != nil {
		return err
	}
	keep := func(id string) bool {
		_, ok := index[id]
		return ok
	}

	names, err := s.base.listIndexNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.base.compactListIndex(op, name, keep); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsoleStore) load(op string, ref *StorageRef) (*ConsoleCollection, error) {
	data, err := s.base.readPayload(op, ref, "json")
	if err != nil {
		return nil, err
	}
	var collection ConsoleCollection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, errors.InvalidPayload(op, "stored collection is malformed", err).
			WithDetail("id", ref.Key())
	}
	return &collection, nil
}

// summarize computes the persisted collection summary.
func summarize(entries []ConsoleEntry) ConsoleSummary {
	summary := ConsoleSummary{
		Total:   len(entries),
		ByLevel: make(map[string]int),
	}
	for i, e := range entries {
		summary.ByLevel[e.Level]++
		switch e.Level {
		case LevelError:
			summary.ErrorCount++
		case LevelWarn:
			summary.WarningCount++
		}
		if i == 0 || e.Timestamp < summary.StartTime {
			summary.StartTime = e.Timestamp
		}
		if e.Timestamp > summary.EndTime {
			summary.EndTime = e.Timestamp
		}
	}
	return summary
}

func filterEntries(entries []ConsoleEntry, filter ConsoleFilter) []ConsoleEntry {
	levelSet := make(map[string]bool, len(filter.Levels))
	for _, l := range filter.Levels {
		levelSet[l] = true
	}
	needle := strings.ToLower(filter.SearchText)

	var out []ConsoleEntry
	for _, e := range entries {
		if len(levelSet) > 0 && !levelSet[e.Level] {
			continue
		}
		if filter.StartTime != 0 && e.Timestamp < filter.StartTime {
			continue
		}
		if filter.EndTime != 0 && e.Timestamp > filter.EndTime {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Message), needle) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func atoiTag(ref *StorageRef, tag string) int {
	n, _ := strconv.Atoi(ref.Tag(tag))
	return n
}
