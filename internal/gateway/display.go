package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/kpellas/iris-assist/internal/iris"
)

// DisplayState is what a dashboard or wall display renders for one owner. It
// is derived purely from run events, never queried back out of run storage.
type DisplayState struct {
	OwnerID              string     `json:"owner_id"`
	Active               bool       `json:"active"`
	RunID                string     `json:"run_id,omitempty"`
	ProtocolName         string     `json:"protocol_name,omitempty"`
	StepIndex            int        `json:"step_index"`
	Step                 *iris.Step `json:"step,omitempty"`
	TotalDurationMinutes int        `json:"total_duration_minutes,omitempty"`
	LastOutcome          string     `json:"last_outcome,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// BufferedEvent pairs an event with its per-owner sequence number so
// reconnecting stream clients can replay what they missed.
type BufferedEvent struct {
	Seq   int        `json:"seq"`
	Event iris.Event `json:"event"`
}

// ownerEntry holds the live streaming state for one owner: the replay
// buffer and the subscriber wakeup channels.
type ownerEntry struct {
	mu       sync.Mutex
	firstSeq int
	events   []BufferedEvent
	subs     []chan struct{} // closed-and-replaced on each new event
	lastSeen time.Time
}

// snapshot copies buffered events from startSeq onward and registers a
// wakeup channel that is closed when the next event lands.
func (e *ownerEntry) snapshot(startSeq int) ([]BufferedEvent, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startSeq < e.firstSeq {
		startSeq = e.firstSeq
	}
	var events []BufferedEvent
	if offset := startSeq - e.firstSeq; offset < len(e.events) {
		events = make([]BufferedEvent, len(e.events)-offset)
		copy(events, e.events[offset:])
	}

	ch := make(chan struct{})
	e.subs = append(e.subs, ch)
	return events, ch
}

const (
	defaultDisplayBuffer = 256
	defaultDisplayTTL    = 6 * time.Hour
)

// DisplayHub is the display surface behind the SSE and WebSocket endpoints.
// As a Sink it folds run events into per-owner DisplayStates (cached with a
// TTL), keeps a bounded replay buffer per owner, and wakes live subscribers.
type DisplayHub struct {
	states *ristretto.Cache

	mu      sync.RWMutex
	owners  map[string]*ownerEntry
	bufSize int
	ttl     time.Duration
	stop    chan struct{}
}

// NewDisplayHub creates a hub that keeps at most bufSize events per owner
// for replay and forgets owners idle longer than ttl. Zero values pick
// defaults.
func NewDisplayHub(bufSize int, ttl time.Duration) (*DisplayHub, error) {
	if bufSize <= 0 {
		bufSize = defaultDisplayBuffer
	}
	if ttl <= 0 {
		ttl = defaultDisplayTTL
	}

	states, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating display state cache: %w", err)
	}

	h := &DisplayHub{
		states:  states,
		owners:  make(map[string]*ownerEntry),
		bufSize: bufSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go h.gc()
	return h, nil
}

// Stop terminates the GC goroutine and releases the state cache.
func (h *DisplayHub) Stop() {
	close(h.stop)
	h.states.Close()
}

func (h *DisplayHub) Name() string { return "display" }

// Deliver folds the event into the owner's display state, buffers it for
// replay and wakes every live subscriber.
func (h *DisplayHub) Deliver(ctx context.Context, event iris.Event) error {
	h.fold(event)

	entry := h.entry(event.OwnerID)

	entry.mu.Lock()
	seq := entry.firstSeq + len(entry.events)
	entry.events = append(entry.events, BufferedEvent{Seq: seq, Event: event})
	if len(entry.events) > h.bufSize {
		drop := len(entry.events) - h.bufSize
		entry.events = append([]BufferedEvent(nil), entry.events[drop:]...)
		entry.firstSeq += drop
	}
	entry.lastSeen = time.Now()
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	return nil
}

// Subscribe returns buffered events from startSeq onward plus a channel that
// is closed when the next event for the owner arrives. Callers re-subscribe
// after each wakeup; pass 0 to start from the oldest buffered event.
func (h *DisplayHub) Subscribe(ownerID string, startSeq int) ([]BufferedEvent, <-chan struct{}) {
	return h.entry(ownerID).snapshot(startSeq)
}

// Watch registers a wakeup channel without replaying the buffer, for clients
// that re-read the folded state instead of consuming events.
func (h *DisplayHub) Watch(ownerID string) <-chan struct{} {
	entry := h.entry(ownerID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	ch := make(chan struct{})
	entry.subs = append(entry.subs, ch)
	return ch
}

// Snapshot returns the owner's current display state. Owners with no recent
// activity get an idle state.
func (h *DisplayHub) Snapshot(ownerID string) *DisplayState {
	if v, ok := h.states.Get(ownerID); ok {
		if state, ok := v.(*DisplayState); ok {
			copied := *state
			return &copied
		}
	}
	return &DisplayState{OwnerID: ownerID}
}

func (h *DisplayHub) entry(ownerID string) *ownerEntry {
	h.mu.RLock()
	entry, ok := h.owners[ownerID]
	h.mu.RUnlock()
	if ok {
		return entry
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok = h.owners[ownerID]; ok {
		return entry
	}
	entry = &ownerEntry{lastSeen: time.Now()}
	h.owners[ownerID] = entry
	return entry
}

func (h *DisplayHub) fold(event iris.Event) {
	state := h.Snapshot(event.OwnerID)

	switch event.Type {
	case iris.EventRunStarted:
		state.Active = true
		state.RunID = event.RunID
		state.ProtocolName = event.ProtocolName
		state.StepIndex = event.StepIndex
		state.Step = event.Step
		state.TotalDurationMinutes = event.TotalDurationMinutes
		state.LastOutcome = ""
	case iris.EventStepAdvanced:
		state.Active = true
		state.RunID = event.RunID
		state.ProtocolName = event.ProtocolName
		state.StepIndex = event.StepIndex
		state.Step = event.Step
	case iris.EventRunCompleted, iris.EventRunCancelled:
		state.Active = false
		state.Step = nil
		state.LastOutcome = string(event.Type)
	default:
		return
	}
	state.UpdatedAt = event.Timestamp

	h.states.SetWithTTL(event.OwnerID, state, 1, h.ttl)
	// Make the write visible to an immediate snapshot read.
	h.states.Wait()
}

func (h *DisplayHub) gc() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.collectIdle()
		}
	}
}

// collectIdle drops buffers for owners with no recent events. Any parked
// subscribers are woken so they re-subscribe against a fresh entry.
func (h *DisplayHub) collectIdle() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for ownerID, entry := range h.owners {
		entry.mu.Lock()
		idle := now.Sub(entry.lastSeen) > h.ttl
		var subs []chan struct{}
		if idle {
			subs = entry.subs
			entry.subs = nil
		}
		entry.mu.Unlock()
		if idle {
			delete(h.owners, ownerID)
			for _, ch := range subs {
				close(ch)
			}
		}
	}
}
