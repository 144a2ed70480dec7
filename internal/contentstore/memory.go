package contentstore

import (
	"context"
	"io"
	"sync"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/meta"
)

// MemoryStore is a map-backed Store, used by tests and by crawls over a
// snapshot file.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string]meta.Value
	versions map[string][]Version
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string]meta.Value),
		versions: make(map[string][]Version),
	}
}

func objectKey(library, hash string) string {
	return library + "\x00" + hash
}

// Put adds or replaces one object version.
func (s *MemoryStore) Put(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[objectKey(obj.Library, obj.Hash)] = obj.Meta
	if obj.Content == "" {
		return
	}
	vs := s.versions[obj.Content]
	for i := range vs {
		if vs[i].Hash == obj.Hash {
			vs = append(vs[:i], vs[i+1:]...)
			break
		}
	}
	vs = append(vs, Version{Hash: obj.Hash, CommittedAt: obj.CommittedAt, Latest: obj.Latest})
	sortVersions(vs)
	s.versions[obj.Content] = vs
}

// LoadSnapshot reads a snapshot and puts every object.
func (s *MemoryStore) LoadSnapshot(r io.Reader) error {
	snap, err := ReadSnapshot(r)
	if err != nil {
		return err
	}
	for _, obj := range snap.Objects {
		s.Put(obj)
	}
	return nil
}

// GetMetadata implements Store.
func (s *MemoryStore) GetMetadata(ctx context.Context, library, hash, subpath string) (meta.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fierrors.New(fierrors.ErrCodeHostCall, "store is closed", nil)
	}
	doc, ok := s.objects[objectKey(library, hash)]
	if !ok {
		return nil, fierrors.NotFound(library, hash)
	}
	return narrow(doc, library, hash, subpath)
}

// GetVersions implements Store.
func (s *MemoryStore) GetVersions(ctx context.Context, contentID string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fierrors.New(fierrors.ErrCodeHostCall, "store is closed", nil)
	}
	vs, ok := s.versions[contentID]
	if !ok {
		return nil, fierrors.New(fierrors.ErrCodeObjectNotFound,
			"content "+contentID+" not found", nil).WithDetail("content", contentID)
	}
	out := make([]Version, len(vs))
	copy(out, vs)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
