package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDirectory(t *testing.T, rec *recordingStore, clk clock.Clock) *Directory {
	t.Helper()
	d := NewDirectory(rec, NopRenderer{}, NopRenderer{}, newMockLogger(), clk)
	d.Start(context.Background())
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitReady(ctx))
	return d
}

func TestDirectory_CreatesDefaultRoom(t *testing.T) {
	rec := newRecordingStore(t)
	d := startDirectory(t, rec, clock.Fake(testStart))

	room, ok := d.Room(domain.DefaultRoomID)
	require.True(t, ok)
	assert.Equal(t, "Général", room.Name)

	data, err := rec.Get(context.Background(), domain.RoomPath(domain.DefaultRoomID))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"Général"`)
}

func TestDirectory_KeepsExistingRooms(t *testing.T) {
	rec := newRecordingStore(t)
	require.NoError(t, rec.Set(context.Background(), domain.RoomPath("r1"), domain.Room{ID: "r1", Name: "Random"}))

	d := startDirectory(t, rec, clock.Fake(testStart))

	_, ok := d.Room("r1")
	assert.True(t, ok)
	_, ok = d.Room(domain.DefaultRoomID)
	assert.False(t, ok)
	assert.Len(t, rec.writesUnder(domain.RoomsPath), 1)
}

func TestDirectory_CreateRoomNames(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	d := startDirectory(t, rec, clk)
	ctx := context.Background()

	general, err := d.CreateRoom(ctx, "General", "", "u1")
	require.NoError(t, err)
	assert.Equal(t, "General", general.Name)
	assert.Len(t, general.ID, 8)

	tests := []struct {
		name  string
		room  string
		field string
		want  error
	}{
		{name: "same as default", room: "Général", field: "roomName", want: domain.ErrRoomAlreadyExists},
		{name: "default in lower case", room: "général", field: "roomName", want: domain.ErrRoomAlreadyExists},
		{name: "created in upper case", room: "  GENERAL ", field: "roomName", want: domain.ErrRoomAlreadyExists},
		{name: "empty", room: "   ", field: "roomName", want: domain.ErrRoomNameEmpty},
		{name: "too long", room: "abcdefghijklmnopqrstuvwxyz012345", field: "roomName", want: domain.ErrRoomNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateRoom(ctx, tt.room, "", "u1")
			assert.ErrorIs(t, err, tt.want)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// general plus the one created room
	assert.Len(t, rec.writesUnder(domain.RoomsPath), 2)
}

func TestDirectory_RoomsOrderAndCounts(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	d := startDirectory(t, rec, clk)
	ctx := context.Background()

	clk.Advance(time.Minute)
	b, err := d.CreateRoom(ctx, "Beta", "second", "u1")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	c, err := d.CreateRoom(ctx, "Gamma", "", "u1")
	require.NoError(t, err)

	require.NoError(t, rec.Set(ctx, domain.MemberPath(b.ID, "u1"), domain.Membership{RoomID: b.ID, UserID: "u1"}))
	require.NoError(t, rec.Set(ctx, domain.MemberPath(b.ID, "u2"), domain.Membership{RoomID: b.ID, UserID: "u2"}))
	d.SetActive(b.ID)

	require.Eventually(t, func() bool {
		rooms := d.Rooms()
		return len(rooms) == 3 && rooms[1].MemberCount == 2
	}, time.Second, 5*time.Millisecond)

	rooms := d.Rooms()
	assert.Equal(t, domain.DefaultRoomID, rooms[0].ID)
	assert.Equal(t, b.ID, rooms[1].ID)
	assert.Equal(t, c.ID, rooms[2].ID)
	assert.True(t, rooms[1].Active)
	assert.False(t, rooms[0].Active)
	assert.Zero(t, rooms[0].MemberCount)
}

func TestDirectory_StopEndsWatches(t *testing.T) {
	rec := newRecordingStore(t)
	d := NewDirectory(rec, NopRenderer{}, NopRenderer{}, newMockLogger(), clock.Fake(testStart))
	d.Start(context.Background())
	require.NoError(t, d.WaitReady(context.Background()))

	require.Eventually(t, func() bool {
		return rec.WatcherCount(domain.MembersPath(domain.DefaultRoomID)) == 1
	}, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.Zero(t, rec.WatcherCount(domain.RoomsPath))
	assert.Zero(t, rec.WatcherCount(domain.MembersPath(domain.DefaultRoomID)))

	// a stopped directory can be started again
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	require.NoError(t, d.WaitReady(context.Background()))
	require.Eventually(t, func() bool {
		return rec.WatcherCount(domain.MembersPath(domain.DefaultRoomID)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDirectory_SubscriptionFailure(t *testing.T) {
	rec := newRecordingStore(t)
	denied := errors.New("permission denied")
	rec.setFail(func(op, path string) error {
		if op == "watch" && path == domain.RoomsPath {
			return denied
		}
		return nil
	})
	view := NewView(clock.Fake(testStart), DefaultConfig())
	d := NewDirectory(rec, view, view, newMockLogger(), clock.Fake(testStart))
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, d.WaitReady(ctx), ErrDirectoryStopped)

	d.Start(context.Background())
	require.ErrorIs(t, d.WaitReady(ctx), denied)
	assert.NoError(t, ctx.Err())
	alerts := view.Snapshot().Alerts
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "permission denied")

	rec.setFail(nil)
	d.Start(context.Background())
	require.NoError(t, d.WaitReady(ctx))
	_, ok := d.Room(domain.DefaultRoomID)
	assert.True(t, ok)
}
