// Package store provides the hierarchical realtime key-value store the chat
// client is built on: point writes, field merges, ordered pushes, subtree
// removal and child change notifications.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Store errors
var (
	ErrNotFound    = errors.New("store: not found")
	ErrInvalidPath = errors.New("store: invalid path")
	ErrClosed      = errors.New("store: closed")
)

// EventKind classifies a ChildEvent.
type EventKind int

const (
	// ChildAdded reports a child seen for the first time. Existing children
	// are replayed as ChildAdded when a watch opens.
	ChildAdded EventKind = iota + 1
	// ChildChanged reports a new value for a known child.
	ChildChanged
	// ChildRemoved reports a deleted child.
	ChildRemoved
	// Ready is emitted once, after the existing children were replayed.
	Ready
)

func (k EventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	case ChildRemoved:
		return "child_removed"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Child is one direct child of a watched path.
type Child struct {
	Key   string
	Value []byte
}

// ChildEvent is a change notification for a direct child of a watched path.
type ChildEvent struct {
	Kind  EventKind
	Key   string
	Value []byte
}

// Watcher delivers the child events of one path until stopped. The events
// channel is closed when the watcher stops, its context ends or the store
// closes.
type Watcher interface {
	Events() <-chan ChildEvent
	Stop()
}

// Store is a schemaless hierarchical key-value store. Paths are slash
// separated and every segment must match [-_=A-Za-z0-9]+. Values are JSON.
type Store interface {
	// Set overwrites the record at path.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the record at path, creating it if absent.
	// Concurrent updates of different fields never lose a field.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push stores value under parent with a new ordered key and returns it.
	Push(ctx context.Context, parent string, value any) (string, error)
	// Get returns the raw record at path or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// Children returns the direct children of parent in key order.
	Children(ctx context.Context, parent string) ([]Child, error)
	// Remove deletes the record at path and all of its descendants.
	Remove(ctx context.Context, path string) error
	// Watch opens a child watch on parent.
	Watch(ctx context.Context, parent string) (Watcher, error)
	// WatchConnection streams the connectivity state, starting with the
	// current one. The channel closes when ctx ends.
	WatchConnection(ctx context.Context) <-chan bool
	Close() error
}

var segmentPattern = regexp.MustCompile(`^[-_=A-Za-z0-9]+$`)

// splitPath validates p and returns its segments.
func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(p, "/")
	for _, s := range segments {
		if !segmentPattern.MatchString(s) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return segments, nil
}

// parentOf returns the parent path and last segment of a validated path.
func parentOf(p string) (string, string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// NewOrderedKey returns a key whose lexical order matches creation order.
func NewOrderedKey() string {
	return ulid.Make().String()
}
