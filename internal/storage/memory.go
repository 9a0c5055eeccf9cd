package storage

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// MemoryStore is an in-process SharedStore.  It backs tests and single-tab
// runs where no Redis is configured but the engine still wants selection
// persistence across resubscribes within the process.
type MemoryStore struct {
	mu        sync.Mutex
	slots     map[string]string
	timers    map[string]*time.Timer
	observers map[int]func(model.BroadcastRecord)
	nextObs   int
	closed    bool
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		slots:     make(map[string]string),
		timers:    make(map[string]*time.Timer),
		observers: make(map[int]func(model.BroadcastRecord)),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(key)
	s.slots[key] = value
	return nil
}

func (s *MemoryStore) SetTransient(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(key)
	s.slots[key] = value
	s.timers[key] = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		delete(s.slots, key)
		delete(s.timers, key)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(key)
	delete(s.slots, key)
	return nil
}

// Publish delivers the record to every observer on a fresh goroutine,
// matching the asynchronous delivery of the Redis channel.
func (s *MemoryStore) Publish(_ context.Context, rec model.BroadcastRecord) error {
	s.mu.Lock()
	fns := make([]func(model.BroadcastRecord), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		go fn(rec)
	}
	return nil
}

func (s *MemoryStore) Observe(fn func(model.BroadcastRecord)) (func(), error) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timers {
		s.stopTimerLocked(key)
	}
	s.observers = make(map[int]func(model.BroadcastRecord))
	s.closed = true
	return nil
}

func (s *MemoryStore) stopTimerLocked(key string) {
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}
