package lightning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store persists visualization types. Create assigns an ID when the record
// has none and fails with a *DuplicateNameError when the name is taken.
type Store interface {
	Create(ctx context.Context, vt *VisualizationType) error
	Update(ctx context.Context, vt *VisualizationType) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*VisualizationType, error)
	GetByName(ctx context.Context, name string) (*VisualizationType, error)
	List(ctx context.Context) ([]*VisualizationType, error)
	Close() error
}

// Ensure interfaces are implemented
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// MemoryStore implements Store in memory.
// Useful for testing and for previews that should never touch disk.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*VisualizationType
	byName map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*VisualizationType),
		byName: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, vt *VisualizationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[vt.Name]; ok {
		return &DuplicateNameError{Name: vt.Name}
	}
	if vt.ID == "" {
		vt.ID = uuid.NewString()
	}
	if _, ok := m.byID[vt.ID]; ok {
		return &PersistenceError{Op: "create", Name: vt.Name, Cause: fmt.Errorf("id %s already exists", vt.ID)}
	}
	m.byID[vt.ID] = vt.Clone()
	m.byName[vt.Name] = vt.ID
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, vt *VisualizationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.byID[vt.ID]
	if !ok {
		return ErrNotFound
	}
	if id, taken := m.byName[vt.Name]; taken && id != vt.ID {
		return &DuplicateNameError{Name: vt.Name}
	}
	delete(m.byName, old.Name)
	m.byID[vt.ID] = vt.Clone()
	m.byName[vt.Name] = vt.ID
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vt, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byName, vt.Name)
	delete(m.byID, id)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*VisualizationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vt, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return vt.Clone(), nil
}

func (m *MemoryStore) GetByName(ctx context.Context, name string) (*VisualizationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*VisualizationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*VisualizationType, 0, len(m.byID))
	for _, vt := range m.byID {
		out = append(out, vt.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
