// Package storage implements the storage manager (C5): one connection per
// enabled destination, tracked health/throughput stats, and the six
// destination backends of spec §4.4.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// ConnectionStatus mirrors spec §4.4's connection_status enum.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "Connected"
	StatusDisconnected ConnectionStatus = "Disconnected"
	StatusConnecting   ConnectionStatus = "Connecting"
	StatusError        ConnectionStatus = "Error"
)

// Stats tracks per-destination throughput and health.
type Stats struct {
	mu sync.Mutex

	EventsStored    uint64
	BytesStored     uint64
	Errors          uint64
	LastStorageTime time.Time
	avgStorageMs    float64
	Status          ConnectionStatus
	StatusMessage   string

	windowStart time.Time
	windowCount uint64
	ratePerSec  float64
}

func NewStats() *Stats {
	return &Stats{Status: StatusConnecting, windowStart: time.Now()}
}

// RecordSuccess updates counters and the moving average of storage time
// (spec §4.4: "update counters and moving-average of storage time").
func (s *Stats) RecordSuccess(bytesStored uint64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventsStored++
	s.BytesStored += bytesStored
	s.LastStorageTime = time.Now()
	s.Status = StatusConnected
	s.StatusMessage = ""

	const alpha = 0.2
	ms := float64(elapsed.Microseconds()) / 1000.0
	if s.avgStorageMs == 0 {
		s.avgStorageMs = ms
	} else {
		s.avgStorageMs = alpha*ms + (1-alpha)*s.avgStorageMs
	}

	s.windowCount++
	if since := time.Since(s.windowStart); since >= time.Second {
		s.ratePerSec = float64(s.windowCount) / since.Seconds()
		s.windowCount = 0
		s.windowStart = time.Now()
	}
}

func (s *Stats) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
	s.Status = StatusError
	s.StatusMessage = msg
}

// Snapshot is a point-in-time copy safe to read without the mutex held.
type Snapshot struct {
	EventsStored    uint64
	BytesStored     uint64
	Errors          uint64
	LastStorageTime time.Time
	AvgStorageMs    float64
	Status          ConnectionStatus
	StatusMessage   string
	RatePerSec      float64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		EventsStored:    s.EventsStored,
		BytesStored:     s.BytesStored,
		Errors:          s.Errors,
		LastStorageTime: s.LastStorageTime,
		AvgStorageMs:    s.avgStorageMs,
		Status:          s.Status,
		StatusMessage:   s.StatusMessage,
		RatePerSec:      s.ratePerSec,
	}
}

// Destination is the capability every backend implements (spec §4.4:
// "store(event) -> bytes_stored | Error").
type Destination interface {
	Name() string
	Store(ctx context.Context, e *event.Event) (bytesStored int, err error)
	Close() error
}

// BatchDestination is implemented by backends that can write a whole batch
// in one call (only ColumnarStore today, per spec §4.1's batching design).
type BatchDestination interface {
	Destination
	StoreBatch(ctx context.Context, events []*event.Event) (bytesStored int, err error)
}

// Manager owns one connection per enabled destination plus its Stats, and
// exposes health summaries for C8.
type Manager struct {
	mu           sync.RWMutex
	destinations map[string]Destination
	stats        map[string]*Stats
}

func NewManager() *Manager {
	return &Manager{
		destinations: make(map[string]Destination),
		stats:        make(map[string]*Stats),
	}
}

func (m *Manager) Register(d Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[d.Name()] = d
	m.stats[d.Name()] = NewStats()
}

func (m *Manager) Get(name string) (Destination, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.destinations[name]
	return d, ok
}

func (m *Manager) Stats(name string) (Snapshot, bool) {
	m.mu.RLock()
	s, ok := m.stats[name]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (m *Manager) AllStats() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.stats))
	for name, s := range m.stats {
		out[name] = s.Snapshot()
	}
	return out
}

// Store writes to the named destination, recording stats either way.
func (m *Manager) Store(ctx context.Context, name string, e *event.Event) error {
	d, ok := m.Get(name)
	if !ok {
		return errDestinationNotFound(name)
	}
	m.mu.RLock()
	stats := m.stats[name]
	m.mu.RUnlock()

	start := time.Now()
	n, err := d.Store(ctx, e)
	if err != nil {
		stats.RecordError(err.Error())
		return err
	}
	stats.RecordSuccess(uint64(n), time.Since(start))
	return nil
}

// StoreBatch writes a batch to the named destination if it supports batch
// writes, else falls back to sequential single-event Store calls.
func (m *Manager) StoreBatch(ctx context.Context, name string, events []*event.Event) error {
	d, ok := m.Get(name)
	if !ok {
		return errDestinationNotFound(name)
	}
	m.mu.RLock()
	stats := m.stats[name]
	m.mu.RUnlock()

	start := time.Now()
	if bd, ok := d.(BatchDestination); ok {
		n, err := bd.StoreBatch(ctx, events)
		if err != nil {
			stats.RecordError(err.Error())
			return err
		}
		stats.RecordSuccess(uint64(n), time.Since(start))
		return nil
	}

	var total int
	for _, e := range events {
		n, err := d.Store(ctx, e)
		if err != nil {
			stats.RecordError(err.Error())
			return err
		}
		total += n
	}
	stats.RecordSuccess(uint64(total), time.Since(start))
	return nil
}

func (m *Manager) CloseAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, d := range m.destinations {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type notFoundError string

func (e notFoundError) Error() string { return "storage: destination not found: " + string(e) }

func errDestinationNotFound(name string) error { return notFoundError(name) }
