package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// RoomSummary is a room as listed in the directory.
type RoomSummary struct {
	domain.Room
	MemberCount int  `json:"memberCount"`
	Active      bool `json:"active"`
}

// Directory mirrors the rooms collection and a live member count per room.
type Directory struct {
	store    store.Store
	renderer Renderer
	notifier Notifier
	logger   types.Logger
	clock    clock.Clock

	mu       sync.Mutex
	rooms    map[string]domain.Room
	counts   map[string]int
	watches  map[string]context.CancelFunc
	active   string
	loaded   bool
	ready    chan struct{}
	err      error
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewDirectory creates a stopped directory.
func NewDirectory(s store.Store, r Renderer, n Notifier, logger types.Logger, clk clock.Clock) *Directory {
	return &Directory{
		store:    s,
		renderer: r,
		notifier: n,
		logger:   logger,
		clock:    clk,
		rooms:    make(map[string]domain.Room),
		counts:   make(map[string]int),
		watches:  make(map[string]context.CancelFunc),
	}
}

// Start subscribes to the rooms collection. It returns immediately; use
// WaitReady to wait for the first snapshot. Starting a directory that is
// still running is a no-op, while one that was stopped or whose
// subscription failed subscribes again.
func (d *Directory) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil && !isClosed(d.finished) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.finished = make(chan struct{})
	d.ready = make(chan struct{})
	d.loaded = false
	d.err = nil
	go d.run(ctx, d.finished)
}

// Stop ends every subscription of the directory and waits for them.
func (d *Directory) Stop() {
	d.mu.Lock()
	cancel, finished := d.cancel, d.finished
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-finished
}

// WaitReady blocks until the first rooms snapshot was applied. It fails
// with the subscription error when the directory ended before loading, and
// with ErrDirectoryStopped when it is not running.
func (d *Directory) WaitReady(ctx context.Context) error {
	d.mu.Lock()
	ready, finished := d.ready, d.finished
	d.mu.Unlock()
	if ready == nil {
		return ErrDirectoryStopped
	}

	select {
	case <-ready:
		return nil
	case <-finished:
		if isClosed(ready) {
			return nil
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.err != nil {
			return d.err
		}
		return ErrDirectoryStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Directory) run(ctx context.Context, finished chan struct{}) {
	var wg sync.WaitGroup
	defer close(finished)
	defer d.dropWatches()
	defer wg.Wait()

	for snap, err := range store.Snapshots(ctx, d.store, domain.RoomsPath) {
		if err != nil {
			if ctx.Err() == nil {
				d.fail(err)
			}
			return
		}
		d.apply(ctx, snap, &wg)
	}
}

// fail records a rooms subscription error so pending and later WaitReady
// calls see it.
func (d *Directory) fail(err error) {
	d.mu.Lock()
	d.err = fmt.Errorf("failed to load rooms: %w", err)
	d.mu.Unlock()

	d.logger.Error("Rooms subscription failed", "error", err)
	d.notifier.Alert("Failed to load rooms: " + err.Error())
}

// dropWatches forgets the member count subscriptions of a finished run so
// the next run opens them again.
func (d *Directory) dropWatches() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, cancel := range d.watches {
		cancel()
		delete(d.watches, id)
	}
	clear(d.counts)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// apply replaces the room cache with snap and reconciles the member count
// subscriptions.
func (d *Directory) apply(ctx context.Context, snap store.Snapshot, wg *sync.WaitGroup) {
	if len(snap.Children) == 0 && !d.isLoaded() {
		if err := d.ensureDefaultRoom(ctx); err != nil {
			d.logger.Error("Failed to create default room", "error", err)
		}
	}

	rooms := make(map[string]domain.Room, len(snap.Children))
	for _, c := range snap.Children {
		room, err := store.Decode[domain.Room](c)
		if err == nil {
			err = room.Validate()
		}
		if err != nil {
			d.logger.Warn("Skipping invalid room record", "key", c.Key, "error", err)
			continue
		}
		rooms[room.ID] = room
	}

	d.mu.Lock()
	if len(rooms) == 0 {
		// keep the locally written default room until the store echoes it
		if room, ok := d.rooms[domain.DefaultRoomID]; ok {
			rooms[room.ID] = room
		}
	}
	d.rooms = rooms
	for id := range rooms {
		if _, ok := d.watches[id]; ok {
			continue
		}
		roomCtx, cancel := context.WithCancel(ctx)
		d.watches[id] = cancel
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.watchMembers(roomCtx, id)
		}()
	}
	for id, cancel := range d.watches {
		if _, ok := rooms[id]; !ok {
			cancel()
			delete(d.watches, id)
			delete(d.counts, id)
		}
	}
	first := !d.loaded
	d.loaded = true
	ready := d.ready
	d.mu.Unlock()

	if first {
		close(ready)
	}
	d.render()
}

func (d *Directory) isLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// ensureDefaultRoom writes the general room. Two clients racing here write
// the same id, so the last write wins.
func (d *Directory) ensureDefaultRoom(ctx context.Context) error {
	room := domain.Room{
		ID:          domain.DefaultRoomID,
		Name:        domain.DefaultRoomName,
		Description: domain.DefaultRoomDescription,
		CreatedAt:   domain.MillisOf(d.clock.Now()),
		CreatedBy:   "system",
	}
	if err := d.store.Set(ctx, domain.RoomPath(room.ID), room); err != nil {
		return err
	}

	d.mu.Lock()
	d.rooms[room.ID] = room
	d.mu.Unlock()
	d.logger.Info("Created default room", "roomID", room.ID)
	return nil
}

func (d *Directory) watchMembers(ctx context.Context, roomID string) {
	for snap, err := range store.Snapshots(ctx, d.store, domain.MembersPath(roomID)) {
		if err != nil {
			d.logger.Warn("Member count subscription failed", "roomID", roomID, "error", err)
			return
		}

		d.mu.Lock()
		if _, ok := d.rooms[roomID]; !ok {
			d.mu.Unlock()
			return
		}
		d.counts[roomID] = len(snap.Children)
		d.mu.Unlock()
		d.render()
	}
}

// CreateRoom validates and stores a new room. Uniqueness is checked against
// the local cache only, so two clients can still create the same name
// concurrently.
func (d *Directory) CreateRoom(ctx context.Context, name, description, creatorID string) (domain.Room, error) {
	name, err := domain.ValidateRoomName(name)
	if err != nil {
		return domain.Room{}, &domain.ValidationError{Field: "roomName", Err: err}
	}
	description, err = domain.ValidateRoomDescription(description)
	if err != nil {
		return domain.Room{}, &domain.ValidationError{Field: "roomDescription", Err: err}
	}

	d.mu.Lock()
	for _, r := range d.rooms {
		if domain.SameName(r.Name, name) {
			d.mu.Unlock()
			return domain.Room{}, &domain.ValidationError{Field: "roomName", Err: domain.ErrRoomAlreadyExists}
		}
	}
	d.mu.Unlock()

	room := domain.Room{
		ID:          uuid.New().String()[:8],
		Name:        name,
		Description: description,
		CreatedAt:   domain.MillisOf(d.clock.Now()),
		CreatedBy:   creatorID,
	}
	if err := d.store.Set(ctx, domain.RoomPath(room.ID), room); err != nil {
		return domain.Room{}, fmt.Errorf("failed to create room: %w", err)
	}

	d.mu.Lock()
	if _, ok := d.rooms[room.ID]; !ok {
		d.rooms[room.ID] = room
	}
	d.mu.Unlock()

	d.logger.Info("Room created", "roomID", room.ID, "name", room.Name, "createdBy", creatorID)
	return room, nil
}

// Room returns a cached room.
func (d *Directory) Room(roomID string) (domain.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	return r, ok
}

// SetActive highlights roomID in the listing.
func (d *Directory) SetActive(roomID string) {
	d.mu.Lock()
	changed := d.active != roomID
	d.active = roomID
	d.mu.Unlock()

	if changed {
		d.render()
	}
}

// Rooms lists the cached rooms, general first, then by creation time.
func (d *Directory) Rooms() []RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summaries()
}

func (d *Directory) summaries() []RoomSummary {
	out := make([]RoomSummary, 0, len(d.rooms))
	for id, r := range d.rooms {
		out = append(out, RoomSummary{
			Room:        r,
			MemberCount: d.counts[id],
			Active:      id == d.active,
		})
	}
	slices.SortFunc(out, compareRooms)
	return out
}

func compareRooms(a, b RoomSummary) int {
	switch {
	case a.ID == domain.DefaultRoomID && b.ID != domain.DefaultRoomID:
		return -1
	case b.ID == domain.DefaultRoomID && a.ID != domain.DefaultRoomID:
		return 1
	}
	return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func (d *Directory) render() {
	d.mu.Lock()
	rooms := d.summaries()
	d.mu.Unlock()
	d.renderer.RenderRooms(rooms)
}
