package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_WatcherLifecycle(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w, err := s.Watch(ctx, "messages/general")
	require.NoError(t, err)
	assert.Equal(t, 1, s.WatcherCount("messages/general"))

	cancel()
	assert.Eventually(t, func() bool {
		return s.WatcherCount("messages/general") == 0
	}, time.Second, 5*time.Millisecond)

	for range w.Events() {
	}
}

func TestMemoryStore_SlowConsumerDoesNotBlockWriters(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	w, err := s.Watch(ctx, "messages/general")
	require.NoError(t, err)
	defer w.Stop()

	for i := range 200 {
		_, err := s.Push(ctx, "messages/general", record{Count: i})
		require.NoError(t, err)
	}

	assert.Equal(t, Ready, nextEvent(t, w).Kind)
	for i := range 200 {
		ev := nextEvent(t, w)
		require.Equal(t, ChildAdded, ev.Kind)
		rec, err := Decode[record](Child{Key: ev.Key, Value: ev.Value})
		require.NoError(t, err)
		require.Equal(t, i, rec.Count)
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w, err := s.Watch(ctx, "rooms")
	require.NoError(t, err)
	conn := s.WatchConnection(ctx)
	assert.True(t, <-conn)

	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set(ctx, "rooms/general", record{}), ErrClosed)
	_, err = s.Watch(ctx, "rooms")
	assert.ErrorIs(t, err, ErrClosed)

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, ok := <-conn
	assert.False(t, ok)
}

func TestMemoryStore_WatchConnection(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := s.WatchConnection(ctx)
	assert.True(t, <-states)

	s.SetConnected(false)
	assert.False(t, <-states)

	s.SetConnected(false)
	s.SetConnected(true)
	assert.True(t, <-states)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-states
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshots_InvalidPath(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	for _, err := range Snapshots(context.Background(), s, "bad path") {
		assert.ErrorIs(t, err, ErrInvalidPath)
	}
}

func TestSnapshots_StoreClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var errs []error
	for snap, err := range Snapshots(ctx, s, "rooms") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		assert.Empty(t, snap.Children)
		require.NoError(t, s.Close())
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrClosed)
}

func TestAdded(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := s.Push(ctx, "messages/general", record{Name: "first"})
	require.NoError(t, err)

	keys := make(chan string, 4)
	go func() {
		for c, err := range Added(ctx, s, "messages/general") {
			if err != nil {
				return
			}
			keys <- c.Key
		}
		close(keys)
	}()
	require.Eventually(t, func() bool {
		return s.WatcherCount("messages/general") == 1
	}, time.Second, 5*time.Millisecond)

	// existing children are skipped
	second, err := s.Push(ctx, "messages/general", record{Name: "second"})
	require.NoError(t, err)
	assert.Equal(t, second, <-keys)

	// changes are not re-announced
	require.NoError(t, s.Set(ctx, "messages/general/"+first, record{Name: "edited"}))
	third, err := s.Push(ctx, "messages/general", record{Name: "third"})
	require.NoError(t, err)
	assert.Equal(t, third, <-keys)

	cancel()
	for range keys {
	}
}
