package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

const mainIndexFile = "index.json"

// baseStore is the shared contract behind every artifact store: id
// generation, content hashing, atomic JSON writes, and index I/O.
//
// Each index file has its own mutex so writes to distinct indexes
// proceed in parallel; readers rely on atomic-replace semantics and
// take no lock.
type baseStore struct {
	baseDir   string // storage root shared by all stores
	namespace string // subdirectory for this store
	category  Category
	idPrefix  string
	logger    *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func newBaseStore(baseDir, namespace string, category Category, idPrefix string, logger *slog.Logger) *baseStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &baseStore{
		baseDir:   baseDir,
		namespace: namespace,
		category:  category,
		idPrefix:  idPrefix,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// initialize creates the store directory. Safe to call repeatedly.
func (b *baseStore) initialize() error {
	if err := os.MkdirAll(b.dir(), 0o755); err != nil {
		return errors.IO(string(b.category)+".initialize", b.dir(), err)
	}
	return nil
}

func (b *baseStore) dir() string {
	return filepath.Join(b.baseDir, b.namespace)
}

// newID generates a collision-free artifact id.
func (b *baseStore) newID() string {
	return b.idPrefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// itemPath resolves the payload location for (id, ext). The layout is
// deterministic; refs carry the relative form for display only.
func (b *baseStore) itemPath(id, ext string) string {
	return filepath.Join(b.dir(), id+"."+ext)
}

// relPath is the baseDir-relative locator recorded in refs.
func (b *baseStore) relPath(id, ext string) string {
	return filepath.ToSlash(filepath.Join(b.namespace, id+"."+ext))
}

// exists reports whether the payload file for (id, ext) is present.
func (b *baseStore) exists(id, ext string) bool {
	_, err := os.Stat(b.itemPath(id, ext))
	return err == nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// lockFor returns the mutex serializing writes to one index file.
func (b *baseStore) lockFor(name string) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	mu, ok := b.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[name] = mu
	}
	return mu
}

// writeFileAtomic writes data through a temp file and rename so partial
// writes never produce a readable corrupt file.
func (b *baseStore) writeFileAtomic(op, path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.IO(op, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.IO(op, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.IO(op, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.IO(op, path, err)
	}
	return nil
}

// writePayload persists body bytes and returns their content hash. The
// just-written file is read back; a ref is never produced for bytes
// that do not hash to what was handed in.
func (b *baseStore) writePayload(op, id, ext string, data []byte) (string, error) {
	path := b.itemPath(id, ext)
	if err := b.writeFileAtomic(op, path, data); err != nil {
		return "", err
	}

	want := hashBytes(data)
	written, err := os.ReadFile(path)
	if err != nil {
		return "", errors.IO(op, path, err)
	}
	if got := hashBytes(written); got != want {
		_ = os.Remove(path)
		return "", errors.Integrity(op, id, want, got)
	}
	return want, nil
}

// readPayload loads a payload and verifies it against the recorded hash.
func (b *baseStore) readPayload(op string, ref *StorageRef, ext string) ([]byte, error) {
	id := ref.Key()
	path := b.itemPath(id, ext)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(op, id)
		}
		return nil, errors.IO(op, path, err)
	}
	if ref.Hash != "" {
		if got := hashBytes(data); got != ref.Hash {
			return nil, errors.Integrity(op, id, ref.Hash, got)
		}
	}
	return data, nil
}

// readJSON decodes a JSON document; a malformed document is reported as
// a corrupt index, not a generic IO failure.
func (b *baseStore) readJSON(op, path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound(op, filepath.Base(path))
		}
		return errors.IO(op, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.ErrCodeCorruptIndex, op, "malformed JSON document", err).
			WithDetail("path", path)
	}
	return nil
}

// writeJSON writes v pretty-printed with atomic-replace semantics.
func (b *baseStore) writeJSON(op, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, op, "value could not be marshalled", err)
	}
	return b.writeFileAtomic(op, path, append(data, '\n'))
}

// createRef stamps a new summary ref for a just-written payload.
func (b *baseStore) createRef(id, ext string, size int64, hash string, tags map[string]string) *StorageRef {
	if tags == nil {
		tags = make(map[string]string)
	}
	return &StorageRef{
		ID:         id,
		LegacyID:   id,
		Category:   b.category,
		Path:       b.relPath(id, ext),
		Size:       size,
		Hash:       hash,
		Timestamp:  time.Now().UTC(),
		Compressed: false,
		Tags:       tags,
	}
}

// --- main index ---

func (b *baseStore) indexPath() string {
	return filepath.Join(b.dir(), mainIndexFile)
}

// loadIndex reads the main index; a missing file is an empty index.
func (b *baseStore) loadIndex(op string) (map[string]*StorageRef, error) {
	index := make(map[string]*StorageRef)
	err := b.readJSON(op, b.indexPath(), &index)
	if err != nil {
		if errors.IsNotFound(err) {
			return index, nil
		}
		return nil, err
	}
	return index, nil
}

// putRef inserts a ref into the main index.
func (b *baseStore) putRef(op string, ref *StorageRef) error {
	mu := b.lockFor(mainIndexFile)
	mu.Lock()
	defer mu.Unlock()

	index, err := b.loadIndex(op)
	if err != nil {
		return err
	}
	index[ref.Key()] = ref
	return b.writeJSON(op, b.indexPath(), index)
}

// removeRef deletes an id from the main index. Missing ids are ignored.
func (b *baseStore) removeRef(op, id string) error {
	mu := b.lockFor(mainIndexFile)
	mu.Lock()
	defer mu.Unlock()

	index, err := b.loadIndex(op)
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	return b.writeJSON(op, b.indexPath(), index)
}

// getRef resolves one id through the main index.
func (b *baseStore) getRef(op, id string) (*StorageRef, error) {
	index, err := b.loadIndex(op)
	if err != nil {
		return nil, err
	}
	ref, ok := index[id]
	if !ok {
		return nil, errors.NotFound(op, id)
	}
	return ref, nil
}

// listRefs returns index entries matching filter, newest first. No
// payload file is touched.
func (b *baseStore) listRefs(op string, filter Filter) ([]*StorageRef, error) {
	index, err := b.loadIndex(op)
	if err != nil {
		return nil, err
	}

	refs := make([]*StorageRef, 0, len(index))
	for _, ref := range index {
		if matchesFilter(ref, filter) {
			refs = append(refs, ref)
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].Timestamp.Equal(refs[j].Timestamp) {
			return refs[i].Timestamp.After(refs[j].Timestamp)
		}
		return refs[i].Key() > refs[j].Key()
	})

	if filter.Limit > 0 && len(refs) > filter.Limit {
		refs = refs[:filter.Limit]
	}
	return refs, nil
}

func matchesFilter(ref *StorageRef, f Filter) bool {
	if f.URL != "" && ref.Tag(TagURL) != f.URL {
		return false
	}
	if f.Name != "" && ref.Tag(TagName) != f.Name {
		return false
	}
	if f.Tag != "" && ref.Tag(UserTagPrefix+f.Tag) != "true" {
		return false
	}
	if !f.StartTime.IsZero() && ref.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ref.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// --- secondary list indexes ---

func (b *baseStore) listIndexPath(name string) string {
	return filepath.Join(b.dir(), name+".json")
}

// readListIndex loads a secondary id list; missing file means empty.
func (b *baseStore) readListIndex(op, name string) ([]string, error) {
	var ids []string
	err := b.readJSON(op, b.listIndexPath(name), &ids)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

// appendListIndex adds an id to a secondary list, once.
func (b *baseStore) appendListIndex(op, name, id string) error {
	mu := b.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	ids, err := b.readListIndex(op, name)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return b.writeJSON(op, b.listIndexPath(name), ids)
}

// compactListIndex rewrites a secondary list keeping only ids the
// predicate accepts. Deletion leaves stale ids behind on purpose; this
// is the cheap reconciliation cleanup invokes.
func (b *baseStore) compactListIndex(op, name string, keep func(id string) bool) error {
	mu := b.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	ids, err := b.readListIndex(op, name)
	if err != nil {
		return err
	}
	if ids == nil {
		return nil
	}

	kept := ids[:0]
	for _, id := range ids {
		if keep(id) {
			kept = append(kept, id)
		}
	}
	return b.writeJSON(op, b.listIndexPath(name), kept)
}

// listIndexNames returns the secondary index files present on disk.
func (b *baseStore) listIndexNames() ([]string, error) {
	entries, err := os.ReadDir(b.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IO(string(b.category)+".listIndexNames", b.dir(), err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == mainIndexFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.Contains(name, ".meta.") || strings.Contains(name, ".chunk_") {
			continue
		}
		// Payload blobs share the .json extension in some stores.
		if strings.HasPrefix(name, b.idPrefix+"_") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}

// removeFiles deletes payload files for an id, returning bytes freed.
func (b *baseStore) removeFiles(id string) int64 {
	entries, err := os.ReadDir(b.dir())
	if err != nil {
		return 0
	}

	var freed int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), id+".") {
			continue
		}
		if info, err := e.Info(); err == nil {
			freed += info.Size()
		}
		_ = os.Remove(filepath.Join(b.dir(), e.Name()))
	}
	return freed
}
