package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. It backs offline runs and tests and
// follows the same notification semantics as JetStreamStore.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[string]map[*memoryWatcher]struct{}
	conn     *connState
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty, connected MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		watchers: make(map[string]map[*memoryWatcher]struct{}),
		conn:     newConnState(true),
	}
}

// Set overwrites the record at path.
func (s *MemoryStore) Set(_ context.Context, path string, value any) error {
	if _, err := splitPath(path); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.put(path, data)
	return nil
}

// Update merges fields into the record at path.
func (s *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	data, err := mergeFields(s.data[path], fields)
	if err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}
	s.put(path, data)
	return nil
}

// Push stores value under parent with a new ordered key.
func (s *MemoryStore) Push(ctx context.Context, parent string, value any) (string, error) {
	key := NewOrderedKey()
	if err := s.Set(ctx, parent+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the record at path.
func (s *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return slices.Clone(data), nil
}

// Children returns the direct children of parent in key order.
func (s *MemoryStore) Children(_ context.Context, parent string) ([]Child, error) {
	if _, err := splitPath(parent); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.children(parent), nil
}

// Remove deletes path and its descendants.
func (s *MemoryStore) Remove(_ context.Context, path string) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var removed []string
	for p := range s.data {
		if p == path || strings.HasPrefix(p, path+"/") {
			removed = append(removed, p)
		}
	}
	slices.Sort(removed)
	for _, p := range removed {
		delete(s.data, p)
		s.notify(p, ChildEvent{Kind: ChildRemoved})
	}
	return nil
}

// Watch opens a child watch on parent.
func (s *MemoryStore) Watch(ctx context.Context, parent string) (Watcher, error) {
	if _, err := splitPath(parent); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	w := &memoryWatcher{
		store:  s,
		parent: parent,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan ChildEvent),
	}
	for _, c := range s.children(parent) {
		w.pending = append(w.pending, ChildEvent{Kind: ChildAdded, Key: c.Key, Value: c.Value})
	}
	w.pending = append(w.pending, ChildEvent{Kind: Ready})

	if s.watchers[parent] == nil {
		s.watchers[parent] = make(map[*memoryWatcher]struct{})
	}
	s.watchers[parent][w] = struct{}{}

	go w.run()
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	return w, nil
}

// WatchConnection streams the simulated connectivity state.
func (s *MemoryStore) WatchConnection(ctx context.Context) <-chan bool {
	return s.conn.watch(ctx)
}

// SetConnected simulates a connectivity change.
func (s *MemoryStore) SetConnected(connected bool) {
	s.conn.set(connected)
}

// WatcherCount returns the number of open watches on parent.
func (s *MemoryStore) WatcherCount(parent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[parent])
}

// Close stops every watcher. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, set := range s.watchers {
		for w := range set {
			w.halt()
		}
	}
	s.watchers = make(map[string]map[*memoryWatcher]struct{})
	s.conn.close()
	return nil
}

// put stores data and notifies the parent's watchers. s.mu must be held.
func (s *MemoryStore) put(path string, data []byte) {
	kind := ChildAdded
	if _, ok := s.data[path]; ok {
		kind = ChildChanged
	}
	s.data[path] = data
	s.notify(path, ChildEvent{Kind: kind, Value: data})
}

// notify routes ev to the watchers of path's parent. s.mu must be held.
func (s *MemoryStore) notify(path string, ev ChildEvent) {
	parent, key := parentOf(path)
	ev.Key = key
	for w := range s.watchers[parent] {
		w.push(ev)
	}
}

// children lists the direct children of parent. s.mu must be held.
func (s *MemoryStore) children(parent string) []Child {
	prefix := parent + "/"
	var out []Child
	for p, data := range s.data {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, Child{Key: rest, Value: slices.Clone(data)})
	}
	slices.SortFunc(out, func(a, b Child) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func (s *MemoryStore) detach(w *memoryWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.watchers[w.parent]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(s.watchers, w.parent)
		}
	}
}

// memoryWatcher queues events without bounds so writers never block on a
// slow consumer.
type memoryWatcher struct {
	store  *MemoryStore
	parent string

	mu      sync.Mutex
	pending []ChildEvent

	wake     chan struct{}
	done     chan struct{}
	out      chan ChildEvent
	stopOnce sync.Once
}

func (w *memoryWatcher) Events() <-chan ChildEvent { return w.out }

func (w *memoryWatcher) Stop() {
	w.halt()
	w.store.detach(w)
}

func (w *memoryWatcher) halt() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *memoryWatcher) push(ev ChildEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) run() {
	defer close(w.out)
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		for _, ev := range batch {
			select {
			case w.out <- ev:
			case <-w.done:
				return
			}
		}

		select {
		case <-w.wake:
		case <-w.done:
			return
		}
	}
}

// mergeFields overlays fields on the JSON object in current. A missing or
// non-object current value is replaced.
func mergeFields(current []byte, fields map[string]any) ([]byte, error) {
	merged := make(map[string]any)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			merged = make(map[string]any)
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
