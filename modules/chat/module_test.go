package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

func newMockLogger() types.Logger {
	return &mockLogger{}
}

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// write is one mutation seen by recordingStore.
type write struct {
	op    string
	path  string
	value []byte
}

// recordingStore records every mutation before passing it to the wrapped
// MemoryStore. fail, when set, can reject a mutation or a watch.
type recordingStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	writes []write
	fail   func(op, path string) error
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	return &recordingStore{MemoryStore: mem}
}

func (r *recordingStore) record(op, path string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(op, path); err != nil {
			return err
		}
	}
	data, _ := json.Marshal(value)
	r.writes = append(r.writes, write{op: op, path: path, value: data})
	return nil
}

func (r *recordingStore) Set(ctx context.Context, path string, value any) error {
	if err := r.record("set", path, value); err != nil {
		return err
	}
	return r.MemoryStore.Set(ctx, path, value)
}

func (r *recordingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := r.record("update", path, fields); err != nil {
		return err
	}
	return r.MemoryStore.Update(ctx, path, fields)
}

func (r *recordingStore) Push(ctx context.Context, parent string, value any) (string, error) {
	if err := r.record("push", parent, value); err != nil {
		return "", err
	}
	return r.MemoryStore.Push(ctx, parent, value)
}

func (r *recordingStore) Remove(ctx context.Context, path string) error {
	if err := r.record("remove", path, nil); err != nil {
		return err
	}
	return r.MemoryStore.Remove(ctx, path)
}

func (r *recordingStore) Watch(ctx context.Context, parent string) (store.Watcher, error) {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		if err := fail("watch", parent); err != nil {
			return nil, err
		}
	}
	return r.MemoryStore.Watch(ctx, parent)
}

func (r *recordingStore) setFail(fn func(op, path string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

// writesUnder returns the recorded mutations of prefix and its descendants.
func (r *recordingStore) writesUnder(prefix string) []write {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []write
	for _, w := range r.writes {
		if w.path == prefix || strings.HasPrefix(w.path, prefix+"/") {
			out = append(out, w)
		}
	}
	return out
}

func (r *recordingStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

type storeProvider struct{ s store.Store }

func (p storeProvider) Store() store.Store { return p.s }

func TestModule_Name(t *testing.T) {
	m := NewModule(DefaultConfig(), storeProvider{}, newMockLogger())
	assert.Equal(t, "chat", m.Name())
}

func TestModule_EmitEvents(t *testing.T) {
	m := NewModule(DefaultConfig(), storeProvider{}, newMockLogger())
	assert.Len(t, m.EmitEvents(), 5)
}

func TestModule_Dependencies(t *testing.T) {
	m := NewModule(DefaultConfig(), storeProvider{}, newMockLogger())
	assert.Equal(t, []string{"store"}, m.Dependencies())

	m.SetDependencyServiceContainer("store", nil)
	assert.Nil(t, m.storeContainer)
}

func TestModule_StartRequiresStore(t *testing.T) {
	m := NewModule(DefaultConfig(), storeProvider{}, newMockLogger())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.Client())

	h := m.Health(context.Background())
	assert.False(t, h.Healthy)
}

func TestModule_Lifecycle(t *testing.T) {
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	m := NewModule(DefaultConfig(), storeProvider{s: mem}, newMockLogger())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NotNil(t, m.Client())

	s, err := m.Client().Join(ctx, JoinRequest{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "general", s.RoomID())

	require.Eventually(t, func() bool {
		return m.Health(ctx).Healthy
	}, time.Second, 5*time.Millisecond)
	h := m.Health(ctx)
	assert.Equal(t, "active", h.Details["state"])
	assert.Equal(t, "general", h.Details["room_id"])

	view := m.View().Snapshot()
	require.NotNil(t, view.User)
	assert.Equal(t, "alice", view.User.Name)

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, StateDisconnected, m.Client().State())

	_, err = mem.Get(ctx, "users/"+s.User().ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
