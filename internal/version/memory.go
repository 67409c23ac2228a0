package version

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps versions in process memory. It is the default backend
// for local runs and tests; contents are lost on exit.
type MemoryStore struct {
	opts Options

	mu       sync.RWMutex
	nextID   int64
	versions map[int64]Version
	payloads map[int64][]byte
	children map[int64]int64 // parent -> first child, for Linear
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts,
		nextID:   1,
		versions: make(map[int64]Version),
		payloads: make(map[int64][]byte),
		children: make(map[int64]int64),
	}
}

func (s *MemoryStore) CreateRoot(ctx context.Context, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	if err := ctx.Err(); err != nil {
		return Version{}, storageFailure("create root", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(doc, uuid.New(), nil), nil
}

func (s *MemoryStore) CreateChild(ctx context.Context, parentID int64, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	if err := ctx.Err(); err != nil {
		return Version{}, storageFailure("create child", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.versions[parentID]
	if !ok {
		return Version{}, notFound(parentID)
	}
	if s.opts.Policy == Linear {
		if _, taken := s.children[parentID]; taken {
			return Version{}, branchConflict(parentID)
		}
	}
	v := s.insert(doc, parent.LineageID, ptr(parentID))
	if _, taken := s.children[parentID]; !taken {
		s.children[parentID] = v.ID
	}
	return v, nil
}

// insert must be called with s.mu held.
func (s *MemoryStore) insert(doc Document, lineage uuid.UUID, parent *int64) Version {
	data := make([]byte, len(doc.Data))
	copy(data, doc.Data)

	v := Version{
		ID:        s.nextID,
		LineageID: lineage,
		ParentID:  parent,
		Format:    doc.Format,
		Filename:  doc.Filename,
		Label:     doc.Label,
		Message:   doc.Message,
		Size:      int64(len(data)),
		Checksum:  Checksum(data),
		CreatedAt: s.opts.now(),
	}
	s.nextID++
	s.versions[v.ID] = v
	s.payloads[v.ID] = data
	return v
}

func (s *MemoryStore) Get(_ context.Context, id int64) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return Version{}, notFound(id)
	}
	return v, nil
}

func (s *MemoryStore) Bytes(_ context.Context, id int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.payloads[id]
	if !ok {
		return nil, notFound(id)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Lineage(_ context.Context, id int64) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, notFound(id)
	}
	chain := []Version{v}
	for v.ParentID != nil {
		v = s.versions[*v.ParentID]
		chain = append(chain, v)
	}
	reverse(chain)
	return chain, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func reverse(vs []Version) {
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
}
