// Package streaming carries per-run progress events from the workflow to
// connected consumers: an in-memory pub/sub with a replay ring per run,
// optionally mirrored to Redis Streams so progress survives a worker
// restart.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/inkwell-labs/corpusflow/internal/metrics"
)

// Event is one progress message for a run. Status is set only on messages
// that change the run's status; a message carrying a terminal status or
// waiting_for_review is the last one an emitter sends.
type Event struct {
	RunID           string    `json:"run_id"`
	Stage           string    `json:"stage"`
	ProgressPercent int       `json:"progress_percent"`
	Status          string    `json:"status,omitempty"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Seq             uint64    `json:"seq"`
}

// Final reports whether this event ends the stream for its run.
func (e Event) Final() bool {
	switch e.Status {
	case "completed", "failed", "cancelled", "waiting_for_review":
		return true
	}
	return false
}

// Marshal returns JSON for SSE payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Mirror receives every published event; the Redis Streams mirror implements
// it. Mirroring is best-effort and never blocks publishing.
type Mirror interface {
	Append(evt Event)
}

// Manager provides in-memory pub/sub for run progress events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-run ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	mirror   Mirror
}

// NewManager creates a manager with the given replay ring capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// SetMirror attaches a durable mirror for published events.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run; caller must drain and call
// Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.ProgressSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.ProgressSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish sends an event to all subscribers of the run (non-blocking).
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.mu.Lock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	mirror := m.mirror
	m.mu.Unlock()

	metrics.ProgressEventsPublished.Inc()
	if mirror != nil {
		mirror.Append(evt)
	}

	// Sends run under the read lock: Unsubscribe deletes and closes under the
	// write lock, so any channel still in the map here is open.
	m.mu.RLock()
	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
	m.mu.RUnlock()
}

// ReplaySince returns events with Seq > since (best-effort within ring
// capacity).
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
