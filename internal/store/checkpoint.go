package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

const (
	checkpointNamespace = "checkpoints"
	checkpointIDPrefix  = "checkpoint"

	nameIndexFile  = "name_index"
	tagIndexPrefix = "tag_index_"
)

// CheckpointStore persists checkpoint manifests referencing sibling-store
// items by bare id. The name index maps each name to its most recent id;
// tag indexes are grown on write and reconciled lazily on read.
type CheckpointStore struct {
	base   *baseStore
	logger *slog.Logger
}

// NewCheckpointStore creates a checkpoint store rooted at baseDir.
func NewCheckpointStore(baseDir string, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{
		base:   newBaseStore(baseDir, checkpointNamespace, CategoryCheckpoint, checkpointIDPrefix, logger),
		logger: logger,
	}
}

// Initialize creates the store directory.
func (s *CheckpointStore) Initialize(ctx context.Context) error {
	return s.base.initialize()
}

// Store persists a manifest and updates the name and tag indexes.
func (s *CheckpointStore) Store(ctx context.Context, manifest *CheckpointManifest) (*StorageRef, error) {
	const op = "CheckpointStore.Store"

	if manifest == nil || manifest.Name == "" {
		return nil, errors.InvalidPayload(op, "manifest requires a name", nil)
	}
	if manifest.Timestamp.IsZero() {
		manifest.Timestamp = time.Now().UTC()
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, op, "manifest could not be marshalled", err)
	}

	id := s.base.newID()
	hash, err := s.base.writePayload(op, id, "json", payload)
	if err != nil {
		return nil, err
	}

	ref := s.base.createRef(id, "json", int64(len(payload)), hash, manifestTags(manifest))
	if err := s.base.putRef(op, ref); err != nil {
		return nil, err
	}
	if err := s.reindex(op, id, manifest); err != nil {
		return nil, err
	}

	s.logger.Debug("stored checkpoint",
		slog.String("id", id),
		slog.String("name", manifest.Name),
		slog.String("url", manifest.URL))
	return ref, nil
}

// Retrieve returns the manifest for ref.
func (s *CheckpointStore) Retrieve(ctx context.Context, ref *StorageRef) (*CheckpointManifest, error) {
	return s.load("CheckpointStore.Retrieve", ref)
}

// Update merges a partial manifest into the stored one. State and
// Metadata merge shallowly; a name change re-points the name index and
// deletes the old name's entry, which a later write must re-establish.
func (s *CheckpointStore) Update(ctx context.Context, ref *StorageRef, partial *CheckpointUpdate) error {
	const op = "CheckpointStore.Update"

	if partial == nil {
		return nil
	}
	manifest, err := s.load(op, ref)
	if err != nil {
		return err
	}

	oldName := manifest.Name
	oldTags := append([]string(nil), manifest.Metadata.Tags...)

	if partial.Name != "" {
		manifest.Name = partial.Name
	}
	if partial.URL != "" {
		manifest.URL = partial.URL
	}
	if partial.State != nil {
		mergeState(&manifest.State, partial.State)
	}
	if partial.Metadata != nil {
		mergeMetadata(&manifest.Metadata, partial.Metadata)
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, op, "manifest could not be marshalled", err)
	}

	id := ref.Key()
	hash, err := s.base.writePayload(op, id, "json", payload)
	if err != nil {
		return err
	}

	// Refresh the summary ref in place; the id and creation timestamp
	// stay stable across updates.
	ref.Hash = hash
	ref.Size = int64(len(payload))
	ref.Tags = manifestTags(manifest)
	if err := s.base.putRef(op, ref); err != nil {
		return err
	}

	if manifest.Name != oldName {
		if err := s.dropName(op, oldName); err != nil {
			return err
		}
	}
	if manifest.Name != oldName || !equalStrings(oldTags, manifest.Metadata.Tags) {
		if err := s.reindex(op, id, manifest); err != nil {
			return err
		}
	}
	return nil
}

// GetByName resolves the most recent checkpoint stored under name.
// A name whose manifest is gone yields nil, not an error.
func (s *CheckpointStore) GetByName(ctx context.Context, name string) (*StorageRef, error) {
	const op = "CheckpointStore.GetByName"

	names, err := s.nameIndex(op)
	if err != nil {
		return nil, err
	}
	id, ok := names[name]
	if !ok {
		return nil, nil
	}
	ref, err := s.base.getRef(op, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ref, nil
}

// Query lists refs matching filter from the index alone.
func (s *CheckpointStore) Query(ctx context.Context, filter Filter) ([]*StorageRef, error) {
	return s.base.listRefs("CheckpointStore.Query", filter)
}

// QueryByTag lists checkpoints carrying a user tag, newest first.
// Stale ids left by deletions are skipped.
func (s *CheckpointStore) QueryByTag(ctx context.Context, tag string) ([]*StorageRef, error) {
	const op = "CheckpointStore.QueryByTag"

	ids, err := s.base.readListIndex(op, tagIndexPrefix+tag)
	if err != nil {
		return nil, err
	}
	index, err := s.base.loadIndex(op)
	if err != nil {
		return nil, err
	}

	var refs []*StorageRef
	for _, id := range ids {
		if ref, ok := index[id]; ok {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Timestamp.After(refs[j].Timestamp) })
	return refs, nil
}

// Compare reports which state sections differ between two checkpoints,
// plus the customData keys whose JSON values differ.
func (s *CheckpointStore) Compare(ctx context.Context, ref1, ref2 *StorageRef) (*CheckpointDiff, error) {
	const op = "CheckpointStore.Compare"

	m1, err := s.load(op, ref1)
	if err != nil {
		return nil, err
	}
	m2, err := s.load(op, ref2)
	if err != nil {
		return nil, err
	}

	diff := &CheckpointDiff{Timestamp: time.Now().UTC()}
	diff.Differences.DOM = m1.State.DOMID != m2.State.DOMID
	diff.Differences.Screenshot = m1.State.ScreenshotID != m2.State.ScreenshotID
	diff.Differences.Console = m1.State.ConsoleID != m2.State.ConsoleID
	diff.Differences.Network = m1.State.NetworkID != m2.State.NetworkID
	diff.Differences.Custom = diffCustomData(m1.State.CustomData, m2.State.CustomData)
	return diff, nil
}

// Clone stores a copy of the manifest under a new name with a fresh
// timestamp. Sibling references are shared, not duplicated.
func (s *CheckpointStore) Clone(ctx context.Context, ref *StorageRef, newName string) (*StorageRef, error) {
	const op = "CheckpointStore.Clone"

	if newName == "" {
		return nil, errors.InvalidPayload(op, "clone requires a new name", nil)
	}
	manifest, err := s.load(op, ref)
	if err != nil {
		return nil, err
	}

	clone := *manifest
	clone.Name = newName
	clone.Timestamp = time.Now().UTC()
	return s.Store(ctx, &clone)
}

// GetHistory lists checkpoints captured for a URL, newest first.
func (s *CheckpointStore) GetHistory(ctx context.Context, url string, limit int) ([]*StorageRef, error) {
	return s.base.listRefs("CheckpointStore.GetHistory", Filter{URL: url, Limit: limit})
}

// GetAllTags returns every user tag carried by a live checkpoint.
func (s *CheckpointStore) GetAllTags(ctx context.Context) ([]string, error) {
	const op = "CheckpointStore.GetAllTags"

	index, err := s.base.loadIndex(op)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, ref := range index {
		for key := range ref.Tags {
			if strings.HasPrefix(key, UserTagPrefix) {
				seen[strings.TrimPrefix(key, UserTagPrefix)] = true
			}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Get resolves one id through the main index.
func (s *CheckpointStore) Get(ctx context.Context, id string) (*StorageRef, error) {
	return s.base.getRef("CheckpointStore.Get", id)
}

// Delete removes the manifest and its main-index entry. When
// deleteRelatedData is set, the sibling-store ids the manifest held are
// returned so the manager can delete those items; the store never
// reaches across into a sibling store itself.
func (s *CheckpointStore) Delete(ctx context.Context, ref *StorageRef, deleteRelatedData bool) (int64, *RelatedIDs, error) {
	const op = "CheckpointStore.Delete"

	var related *RelatedIDs
	if deleteRelatedData {
		manifest, err := s.load(op, ref)
		if err != nil && !errors.IsNotFound(err) {
			return 0, nil, err
		}
		if manifest != nil {
			related = &RelatedIDs{
				DOMID:        manifest.State.DOMID,
				ScreenshotID: manifest.State.ScreenshotID,
				ConsoleID:    manifest.State.ConsoleID,
			}
		}
	}

	id := ref.Key()
	if err := s.base.removeRef(op, id); err != nil {
		return 0, nil, err
	}
	freed := s.base.removeFiles(id)

	// Drop the name entry only if it still points at this manifest.
	name := ref.Tag(TagName)
	if name != "" {
		names, err := s.nameIndex(op)
		if err == nil && names[name] == id {
			_ = s.dropName(op, name)
		}
	}
	return freed, related, nil
}

// CompactIndexes drops ids that no longer resolve from the tag indexes
// and prunes dangling name entries.
func (s *CheckpointStore) CompactIndexes(ctx context.Context) error {
	const op = "CheckpointStore.CompactIndexes"

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
		if name == nameIndexFile {
			continue
		}
		if err := s.base.compactListIndex(op, name, keep); err != nil {
			return err
		}
	}

	mu := s.base.lockFor(nameIndexFile)
	mu.Lock()
	defer mu.Unlock()

	nameIdx, err := s.nameIndexLocked(op)
	if err != nil {
		return err
	}
	changed := false
	for name, id := range nameIdx {
		if !keep(id) {
			delete(nameIdx, name)
			changed = true
		}
	}
	if changed {
		return s.base.writeJSON(op, s.base.listIndexPath(nameIndexFile), nameIdx)
	}
	return nil
}

func (s *CheckpointStore) load(op string, ref *StorageRef) (*CheckpointManifest, error) {
	data, err := s.base.readPayload(op, ref, "json")
	if err != nil {
		return nil, err
	}
	var manifest CheckpointManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.InvalidPayload(op, "stored manifest is malformed", err).
			WithDetail("id", ref.Key())
	}
	return &manifest, nil
}

// reindex points the name index at id and appends id to each user tag
// index.
func (s *CheckpointStore) reindex(op, id string, manifest *CheckpointManifest) error {
	mu := s.base.lockFor(nameIndexFile)
	mu.Lock()
	names, err := s.nameIndexLocked(op)
	if err == nil {
		names[manifest.Name] = id
		err = s.base.writeJSON(op, s.base.listIndexPath(nameIndexFile), names)
	}
	mu.Unlock()
	if err != nil {
		return err
	}

	for _, tag := range manifest.Metadata.Tags {
		if err := s.base.appendListIndex(op, tagIndexPrefix+tag, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *CheckpointStore) dropName(op, name string) error {
	mu := s.base.lockFor(nameIndexFile)
	mu.Lock()
	defer mu.Unlock()

	names, err := s.nameIndexLocked(op)
	if err != nil {
		return err
	}
	if _, ok := names[name]; !ok {
		return nil
	}
	delete(names, name)
	return s.base.writeJSON(op, s.base.listIndexPath(nameIndexFile), names)
}

func (s *CheckpointStore) nameIndex(op string) (map[string]string, error) {
	mu := s.base.lockFor(nameIndexFile)
	mu.Lock()
	defer mu.Unlock()
	return s.nameIndexLocked(op)
}

func (s *CheckpointStore) nameIndexLocked(op string) (map[string]string, error) {
	names := make(map[string]string)
	err := s.base.readJSON(op, s.base.listIndexPath(nameIndexFile), &names)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	return names, nil
}

// manifestTags builds the reserved + user tag set recorded in the ref.
func manifestTags(manifest *CheckpointManifest) map[string]string {
	tags := map[string]string{
		TagName: manifest.Name,
		TagURL:  manifest.URL,
	}
	if manifest.State.ScreenshotID != "" {
		tags[TagHasScreenshot] = "true"
	}
	if manifest.State.DOMID != "" {
		tags[TagHasDOM] = "true"
	}
	if manifest.State.ConsoleID != "" {
		tags[TagHasConsole] = "true"
	}
	for _, tag := range manifest.Metadata.Tags {
		tags[UserTagPrefix+tag] = "true"
	}
	return tags
}

func mergeState(dst, src *CheckpointState) {
	if src.DOMID != "" {
		dst.DOMID = src.DOMID
	}
	if src.ScreenshotID != "" {
		dst.ScreenshotID = src.ScreenshotID
	}
	if src.ConsoleID != "" {
		dst.ConsoleID = src.ConsoleID
	}
	if src.NetworkID != "" {
		dst.NetworkID = src.NetworkID
	}
	if src.CustomData != nil {
		if dst.CustomData == nil {
			dst.CustomData = make(map[string]any, len(src.CustomData))
		}
		for k, v := range src.CustomData {
			dst.CustomData[k] = v
		}
	}
}

func mergeMetadata(dst, src *CheckpointMetadata) {
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Tags != nil {
		dst.Tags = src.Tags
	}
	if src.Viewport != nil {
		dst.Viewport = src.Viewport
	}
	if src.UserAgent != "" {
		dst.UserAgent = src.UserAgent
	}
}

// diffCustomData returns the keys whose JSON-encoded values differ.
func diffCustomData(a, b map[string]any) []string {
	keys := make(map[string]bool)
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}

	var diff []string
	for k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if aok != bok || !jsonEqual(av, bv) {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

func jsonEqual(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
