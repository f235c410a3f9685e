package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// Snapshot is the full set of direct children of a path at one point in time.
type Snapshot struct {
	Path     string
	Children []Child
}

// Snapshots yields a snapshot of parent's children once the existing children
// are loaded and again after every change. Each range opens its own watch;
// breaking out of the loop or cancelling ctx closes it.
func Snapshots(ctx context.Context, s Store, parent string) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		w, err := s.Watch(ctx, parent)
		if err != nil {
			yield(Snapshot{Path: parent}, err)
			return
		}
		defer w.Stop()

		children := make(map[string][]byte)
		ready := false
		for ev, err := range events(ctx, w) {
			if err != nil {
				yield(Snapshot{Path: parent}, err)
				return
			}
			switch ev.Kind {
			case ChildAdded, ChildChanged:
				children[ev.Key] = ev.Value
			case ChildRemoved:
				delete(children, ev.Key)
			case Ready:
				ready = true
			}
			if !ready {
				continue
			}
			if !yield(snapshotOf(parent, children), nil) {
				return
			}
		}
	}
}

// Added yields each child added to parent after the watch opened. Children
// that already existed are skipped; Snapshots covers them. It stops like
// Snapshots.
func Added(ctx context.Context, s Store, parent string) iter.Seq2[Child, error] {
	return func(yield func(Child, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		w, err := s.Watch(ctx, parent)
		if err != nil {
			yield(Child{}, err)
			return
		}
		defer w.Stop()

		ready := false
		for ev, err := range events(ctx, w) {
			if err != nil {
				yield(Child{}, err)
				return
			}
			if ev.Kind == Ready {
				ready = true
			}
			if !ready || ev.Kind != ChildAdded {
				continue
			}
			if !yield(Child{Key: ev.Key, Value: ev.Value}, nil) {
				return
			}
		}
	}
}

// events drains w until ctx ends. A watcher closed underneath a live context
// yields ErrClosed.
func events(ctx context.Context, w Watcher) iter.Seq2[ChildEvent, error] {
	return func(yield func(ChildEvent, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events():
				if !ok {
					if ctx.Err() == nil {
						yield(ChildEvent{}, ErrClosed)
					}
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func snapshotOf(parent string, children map[string][]byte) Snapshot {
	snap := Snapshot{Path: parent, Children: make([]Child, 0, len(children))}
	for k, v := range children {
		snap.Children = append(snap.Children, Child{Key: k, Value: v})
	}
	slices.SortFunc(snap.Children, func(a, b Child) int { return strings.Compare(a.Key, b.Key) })
	return snap
}

// Decode unmarshals a child's JSON value into T.
func Decode[T any](c Child) (T, error) {
	var v T
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", c.Key, err)
	}
	return v, nil
}
