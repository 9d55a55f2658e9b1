package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kpellas/iris-assist/internal/iris"
)

// MemoryProtocolRepository stores protocol definitions in memory. It is the
// default store when no database is configured, and the fixture store for
// tests.
type MemoryProtocolRepository struct {
	mu     sync.RWMutex
	byID   map[string]*iris.Protocol
	byName map[string]string // ownerID + "\x00" + normalized name → ID
}

func NewMemoryProtocolRepository() *MemoryProtocolRepository {
	return &MemoryProtocolRepository{
		byID:   make(map[string]*iris.Protocol),
		byName: make(map[string]string),
	}
}

func nameKey(ownerID, name string) string {
	return ownerID + "\x00" + iris.NormalizeName(name)
}

func cloneProtocol(p *iris.Protocol) *iris.Protocol {
	cp := *p
	cp.Steps = iris.CopySteps(p.Steps)
	cp.Tags = append([]string(nil), p.Tags...)
	if p.LastRunAt != nil {
		t := *p.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}

func (r *MemoryProtocolRepository) Upsert(_ context.Context, p *iris.Protocol) (*iris.Protocol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := nameKey(p.OwnerID, p.Name)

	if id, ok := r.byName[key]; ok {
		// Revision: identity, creation time, and run stats survive; the
		// soft-delete flag is cleared.
		existing := r.byID[id]
		existing.Name = p.Name
		existing.Description = p.Description
		existing.Steps = iris.CopySteps(p.Steps)
		existing.Tags = append([]string(nil), p.Tags...)
		existing.TotalDurationMinutes = iris.TotalDuration(p.Steps)
		existing.Active = true
		existing.UpdatedAt = now
		return cloneProtocol(existing), nil
	}

	stored := cloneProtocol(p)
	if stored.ID == "" {
		stored.ID = iris.GenerateID("prot")
	}
	stored.TotalDurationMinutes = iris.TotalDuration(stored.Steps)
	stored.Active = true
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.byID[stored.ID] = stored
	r.byName[key] = stored.ID
	return cloneProtocol(stored), nil
}

func (r *MemoryProtocolRepository) Get(_ context.Context, id string) (*iris.Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, iris.ErrNotFound("protocol", id)
	}
	return cloneProtocol(p), nil
}

func (r *MemoryProtocolRepository) GetByName(_ context.Context, ownerID, name string) (*iris.Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[nameKey(ownerID, name)]
	if !ok {
		return nil, iris.ErrNotFound("protocol", name)
	}
	p := r.byID[id]
	if !p.Active {
		return nil, iris.ErrNotFound("protocol", name)
	}
	return cloneProtocol(p), nil
}

func (r *MemoryProtocolRepository) List(_ context.Context, ownerID string) ([]*iris.Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*iris.Protocol
	for _, p := range r.byID {
		if p.OwnerID == ownerID && p.Active {
			out = append(out, cloneProtocol(p))
		}
	}

	// Most-used first, most recently revised breaking ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunCount != out[j].RunCount {
			return out[i].RunCount > out[j].RunCount
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryProtocolRepository) SoftDelete(_ context.Context, ownerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byName[nameKey(ownerID, name)]
	if !ok {
		return iris.ErrNotFound("protocol", name)
	}
	p := r.byID[id]
	if !p.Active {
		return iris.ErrNotFound("protocol", name)
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryProtocolRepository) RecordRun(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return iris.ErrNotFound("protocol", id)
	}
	now := time.Now().UTC()
	p.RunCount++
	p.LastRunAt = &now
	return nil
}
