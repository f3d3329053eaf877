package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samis-guide/guide-cli/internal/model"
)

// MemoryStore is an in-process Store with the same uniqueness semantics as
// the database backends. It backs tests and throwaway runs; nothing
// survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	places map[string]*model.Place
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{places: make(map[string]*model.Place)}
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*model.Place, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.places[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByIdentityKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.places {
		if p.IdentityKey == key {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByDedupeKey(ctx context.Context, key string) (*model.Place, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.places {
		if p.DedupeKey == key {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByURL(ctx context.Context, sourceURL, mapsURL string) (*model.Place, error) {
	if sourceURL == "" && mapsURL == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.places {
		if matchesURL(p, sourceURL) || matchesURL(p, mapsURL) {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func matchesURL(p *model.Place, u string) bool {
	return u != "" && (p.SourceURL == u || p.MapsURL == u)
}

func (m *MemoryStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.places[slug]
	return ok, nil
}

func (m *MemoryStore) Insert(ctx context.Context, p *model.Place) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.places[p.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.places {
		if p.IdentityKey != "" && existing.IdentityKey == p.IdentityKey {
			return ErrDuplicate
		}
		if existing.DedupeKey == p.DedupeKey {
			return ErrDuplicate
		}
	}
	c := *p
	m.places[p.ID] = &c
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, p *model.Place) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.places[p.ID]; !ok {
		return ErrNotFound
	}
	c := *p
	m.places[p.ID] = &c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.places[id]; !ok {
		return ErrNotFound
	}
	delete(m.places, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]model.Place, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Place
	for _, p := range m.places {
		if filter.PublishedOnly && !p.Published {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Featured != out[j].Featured {
			return out[i].Featured
		}
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                      { return nil }
