package store

import (
	"context"
	"log/slog"
)

const (
	diffNamespace = "visual_diffs"
	diffIDPrefix  = "diff"
)

// DiffStore persists generated visual-diff overlays. It is the plain
// content-addressed contract with no secondary indexes.
type DiffStore struct {
	base   *baseStore
	logger *slog.Logger
}

// NewDiffStore creates a diff store rooted at baseDir.
func NewDiffStore(baseDir string, logger *slog.Logger) *DiffStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiffStore{
		base:   newBaseStore(baseDir, diffNamespace, CategoryVisualDiff, diffIDPrefix, logger),
		logger: logger,
	}
}

// Initialize creates the store directory.
func (s *DiffStore) Initialize(ctx context.Context) error {
	return s.base.initialize()
}

// Store persists an encoded diff image.
func (s *DiffStore) Store(ctx context.Context, data []byte, tags map[string]string) (*StorageRef, error) {
	const op = "DiffStore.Store"

	id := s.base.newID()
	hash, err := s.base.writePayload(op, id, "png", data)
	if err != nil {
		return nil, err
	}

	ref := s.base.createRef(id, "png", int64(len(data)), hash, tags)
	if err := s.base.putRef(op, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// Retrieve returns the stored diff image bytes.
func (s *DiffStore) Retrieve(ctx context.Context, ref *StorageRef) ([]byte, error) {
	return s.base.readPayload("DiffStore.Retrieve", ref, "png")
}

// Query lists refs matching filter from the index alone.
func (s *DiffStore) Query(ctx context.Context, filter Filter) ([]*StorageRef, error) {
	return s.base.listRefs("DiffStore.Query", filter)
}

// Delete removes the diff image and its main-index entry.
func (s *DiffStore) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.base.removeRef("DiffStore.Delete", id); err != nil {
		return 0, err
	}
	return s.base.removeFiles(id), nil
}
