package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// maxUpdateAttempts bounds the optimistic merge loop in Update.
const maxUpdateAttempts = 5

// Config holds the JetStream store configuration.
type Config struct {
	URL         string
	Bucket      string
	Description string
	ClientName  string
}

// DefaultConfig returns the default JetStream store configuration.
func DefaultConfig() Config {
	return Config{
		URL:         "nats://localhost:4222",
		Bucket:      "chat",
		Description: "Realtime chat rooms, presence, typing and messages",
		ClientName:  "realtime-chat-demo",
	}
}

// JetStreamStore implements Store on a NATS JetStream key-value bucket.
// Slash paths map to dot separated keys, so the children of a path are the
// keys matching "<parent>.*".
type JetStreamStore struct {
	conn  *nats.Conn
	js    jetstream.JetStream
	kv    jetstream.KeyValue
	state *connState
	cfg   Config
}

var _ Store = (*JetStreamStore)(nil)

// NewJetStreamStore connects to NATS and opens, or creates, the bucket.
func NewJetStreamStore(ctx context.Context, cfg Config) (*JetStreamStore, error) {
	state := newConnState(false)

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ConnectHandler(func(*nats.Conn) {
			state.set(true)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[store] Reconnected to %s", nc.ConnectedUrl())
			state.set(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[store] Disconnected: %v", err)
			}
			state.set(false)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	state.set(conn.IsConnected())

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &JetStreamStore{
		conn:  conn,
		js:    js,
		state: state,
		cfg:   cfg,
	}

	kv, err := s.getOrCreateBucket(ctx, cfg.Bucket, cfg.Description)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open %s bucket: %w", cfg.Bucket, err)
	}
	s.kv = kv

	log.Printf("[store] Connected to NATS at %s, bucket %s ready", cfg.URL, cfg.Bucket)
	return s, nil
}

func (s *JetStreamStore) getOrCreateBucket(ctx context.Context, name, description string) (jetstream.KeyValue, error) {
	bucket, err := s.js.KeyValue(ctx, name)
	if err == nil {
		return bucket, nil
	}

	return s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
	})
}

// Set overwrites the record at path.
func (s *JetStreamStore) Set(ctx context.Context, path string, value any) error {
	key, err := toKey(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	return nil
}

// Update merges fields into the record at path with revision checked writes,
// retrying when another writer got in first.
func (s *JetStreamStore) Update(ctx context.Context, path string, fields map[string]any) error {
	key, err := toKey(path)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		switch {
		case isKeyNotFound(err):
			data, mergeErr := mergeFields(nil, fields)
			if mergeErr != nil {
				return fmt.Errorf("failed to merge %s: %w", path, mergeErr)
			}
			_, err = s.kv.Create(ctx, key, data)
		case err != nil:
			return fmt.Errorf("failed to read %s: %w", path, err)
		default:
			data, mergeErr := mergeFields(entry.Value(), fields)
			if mergeErr != nil {
				return fmt.Errorf("failed to merge %s: %w", path, mergeErr)
			}
			_, err = s.kv.Update(ctx, key, data, entry.Revision())
		}

		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("failed to update %s: %w", path, err)
		}
	}

	return fmt.Errorf("failed to update %s: revision conflict after %d attempts", path, maxUpdateAttempts)
}

// Push stores value under parent with a new ordered key.
func (s *JetStreamStore) Push(ctx context.Context, parent string, value any) (string, error) {
	key := NewOrderedKey()
	if err := s.Set(ctx, parent+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the record at path.
func (s *JetStreamStore) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := toKey(path)
	if err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return entry.Value(), nil
}

// Children returns the direct children of parent in key order.
func (s *JetStreamStore) Children(ctx context.Context, parent string) ([]Child, error) {
	key, err := toKey(parent)
	if err != nil {
		return nil, err
	}

	entries, err := s.snapshot(ctx, key+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", parent, err)
	}

	children := make([]Child, 0, len(entries))
	for _, e := range entries {
		children = append(children, Child{Key: lastSegment(e.Key()), Value: e.Value()})
	}
	slices.SortFunc(children, func(a, b Child) int { return strings.Compare(a.Key, b.Key) })
	return children, nil
}

// Remove deletes path and its descendants.
func (s *JetStreamStore) Remove(ctx context.Context, path string) error {
	key, err := toKey(path)
	if err != nil {
		return err
	}

	descendants, err := s.snapshot(ctx, key+".>", jetstream.IgnoreDeletes(), jetstream.MetaOnly())
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", path, err)
	}
	for _, e := range descendants {
		if err := s.kv.Delete(ctx, e.Key()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", fromKey(e.Key()), err)
		}
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// snapshot collects the current entries matching filter.
func (s *JetStreamStore) snapshot(ctx context.Context, filter string, opts ...jetstream.WatchOpt) ([]jetstream.KeyValueEntry, error) {
	w, err := s.kv.Watch(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer w.Stop()

	var entries []jetstream.KeyValueEntry
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-w.Updates():
			if !ok {
				return nil, ErrClosed
			}
			if e == nil {
				return entries, nil
			}
			entries = append(entries, e)
		}
	}
}

// Watch opens a child watch on parent.
func (s *JetStreamStore) Watch(ctx context.Context, parent string) (Watcher, error) {
	key, err := toKey(parent)
	if err != nil {
		return nil, err
	}

	kw, err := s.kv.Watch(ctx, key+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", parent, err)
	}

	w := &jetStreamWatcher{
		kw:   kw,
		out:  make(chan ChildEvent),
		done: make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// WatchConnection streams the NATS connection state.
func (s *JetStreamStore) WatchConnection(ctx context.Context) <-chan bool {
	return s.state.watch(ctx)
}

// IsConnected returns whether the NATS connection is active.
func (s *JetStreamStore) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Bucket returns the name of the backing bucket.
func (s *JetStreamStore) Bucket() string {
	return s.cfg.Bucket
}

// Close closes the NATS connection.
func (s *JetStreamStore) Close() error {
	s.state.close()
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// jetStreamWatcher turns KV entries into child events. A put of an unseen
// key is an add; deletes and purges of unseen keys are dropped.
type jetStreamWatcher struct {
	kw       jetstream.KeyWatcher
	out      chan ChildEvent
	done     chan struct{}
	stopOnce sync.Once
}

func (w *jetStreamWatcher) Events() <-chan ChildEvent { return w.out }

func (w *jetStreamWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *jetStreamWatcher) run(ctx context.Context) {
	defer close(w.out)
	defer func() { _ = w.kw.Stop() }()

	seen := make(map[string]bool)
	for {
		var entry jetstream.KeyValueEntry
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case e, ok := <-w.kw.Updates():
			if !ok {
				return
			}
			entry = e
		}

		ev := ChildEvent{Kind: Ready}
		if entry != nil {
			ev.Key = lastSegment(entry.Key())
			switch entry.Operation() {
			case jetstream.KeyValuePut:
				ev.Kind = ChildAdded
				if seen[ev.Key] {
					ev.Kind = ChildChanged
				}
				ev.Value = entry.Value()
				seen[ev.Key] = true
			default:
				if !seen[ev.Key] {
					continue
				}
				delete(seen, ev.Key)
				ev.Kind = ChildRemoved
			}
		}

		select {
		case w.out <- ev:
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func toKey(path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "."), nil
}

func fromKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// isRevisionConflict reports whether a Create or Update lost a race.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
