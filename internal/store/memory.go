package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-machine
// deployments. Subscriptions are fanned out synchronously on the writer's
// goroutine, which preserves per-path write ordering.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	subs   map[int]*memSub
	nextID int
}

type memSub struct {
	path string
	fn   func(Event)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		subs: make(map[int]*memSub),
	}
}

func (s *MemoryStore) Write(ctx context.Context, path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.data[path] = cp
	var targets []*memSub
	for _, sub := range s.subs {
		if covers(sub.path, path) {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.fn(Event{Path: path, Data: cp})
	}
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, path string) ([]byte, bool, error) {
	s.mu.RLock()
	d, ok := s.data[path]
	s.mu.RUnlock()
	return d, ok, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	s.mu.RLock()
	for p, d := range s.data {
		if k := childKey(prefix, p); k != "" {
			out[k] = d
		}
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *MemoryStore) Subscribe(path string, fn func(Event)) (UnsubscribeFunc, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &memSub{path: path, fn: fn}

	// snapshot current values under path for the initial delivery
	var initial []Event
	for p, d := range s.data {
		if covers(path, p) {
			initial = append(initial, Event{Path: p, Data: d})
		}
	}
	s.mu.Unlock()

	for _, ev := range initial {
		fn(ev)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) Close() error { return nil }
