package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kpellas/iris-assist/internal/iris"
)

// MemoryRunRepository stores protocol runs in memory. The active check and
// the insert happen under one mutex hold, which is what makes Create atomic
// for the one-active-per-owner invariant.
type MemoryRunRepository struct {
	mu     sync.RWMutex
	runs   map[string]*iris.ProtocolRun
	active map[string]string // ownerID → in-progress run ID
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		runs:   make(map[string]*iris.ProtocolRun),
		active: make(map[string]string),
	}
}

func cloneRun(run *iris.ProtocolRun) *iris.ProtocolRun {
	cp := *run
	cp.Steps = iris.CopySteps(run.Steps)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (r *MemoryRunRepository) Create(_ context.Context, run *iris.ProtocolRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if activeID, ok := r.active[run.OwnerID]; ok {
		return iris.ErrConflict("a protocol run is already in progress", r.runs[activeID].ProtocolName)
	}

	stored := cloneRun(run)
	r.runs[stored.ID] = stored
	r.active[stored.OwnerID] = stored.ID
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*iris.ProtocolRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, iris.ErrNotFound("run", id)
	}
	return cloneRun(run), nil
}

func (r *MemoryRunRepository) GetActive(_ context.Context, ownerID string) (*iris.ProtocolRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[ownerID]
	if !ok {
		return nil, nil
	}
	return cloneRun(r.runs[id]), nil
}

func (r *MemoryRunRepository) Advance(_ context.Context, id string, newIndex int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return false, iris.ErrNotFound("run", id)
	}
	if run.Status != iris.RunStatusInProgress {
		return false, nil
	}
	if newIndex != run.CurrentStepIndex+1 || newIndex >= len(run.Steps) {
		return false, nil
	}
	run.CurrentStepIndex = newIndex
	return true, nil
}

func (r *MemoryRunRepository) Complete(_ context.Context, id, notes string) (bool, error) {
	return r.finish(id, iris.RunStatusCompleted, notes)
}

func (r *MemoryRunRepository) Cancel(_ context.Context, id string) (bool, error) {
	return r.finish(id, iris.RunStatusCancelled, "")
}

func (r *MemoryRunRepository) finish(id string, status iris.RunStatus, notes string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return false, iris.ErrNotFound("run", id)
	}
	if run.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if notes != "" {
		run.Notes = notes
	}
	delete(r.active, run.OwnerID)
	return true, nil
}

func (r *MemoryRunRepository) List(_ context.Context, ownerID, protocolID string, limit int) ([]*iris.ProtocolRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*iris.ProtocolRun
	for _, run := range r.runs {
		if run.OwnerID != ownerID {
			continue
		}
		if protocolID != "" && run.ProtocolID != protocolID {
			continue
		}
		out = append(out, cloneRun(run))
	}

	// Most recent first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
