package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{names: nil, want: ""},
		{names: []string{"A"}, want: "A is typing…"},
		{names: []string{"A", "B"}, want: "A and B are typing…"},
		{names: []string{"A", "B", "C"}, want: "A and 2 others are typing…"},
		{names: []string{"A", "B", "C", "D"}, want: "A and 3 others are typing…"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Summarize(tt.names), "names %v", tt.names)
	}
}

func TestTypingNames(t *testing.T) {
	states := []domain.TypingState{
		{RoomID: "r", UserID: "u3", UserName: "carol", IsTyping: true, UpdatedAt: 300},
		{RoomID: "r", UserID: "self", UserName: "me", IsTyping: true, UpdatedAt: 50},
		{RoomID: "r", UserID: "u1", UserName: "alice", IsTyping: true, UpdatedAt: 100},
		{RoomID: "r", UserID: "u2", UserName: "bob", IsTyping: false, UpdatedAt: 200},
		{RoomID: "r", UserID: "u0", UserName: "dave", IsTyping: true, UpdatedAt: 100},
	}

	assert.Equal(t, []string{"dave", "alice", "carol"}, typingNames(states, "self"))
}

// typingWrites decodes the typing records written for userID in roomID.
func typingWrites(t *testing.T, rec *recordingStore, roomID, userID string) []domain.TypingState {
	t.Helper()
	var out []domain.TypingState
	for _, w := range rec.writesUnder(domain.TypingUserPath(roomID, userID)) {
		var s domain.TypingState
		require.NoError(t, json.Unmarshal(w.value, &s))
		out = append(out, s)
	}
	return out
}

func countTyping(states []domain.TypingState, typing bool) int {
	n := 0
	for _, s := range states {
		if s.IsTyping == typing {
			n++
		}
	}
	return n
}

func TestTyping_IdleWritesFalseOnce(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	ctx := context.Background()
	typing := NewTyping(ctx, rec, newMockLogger(), clk, 2*time.Second, "u1", "alice")
	typing.MoveTo("general")

	for range 3 {
		require.NoError(t, typing.Keystroke(ctx))
		clk.Advance(500 * time.Millisecond)
	}
	writes := typingWrites(t, rec, "general", "u1")
	require.Len(t, writes, 1)
	assert.True(t, writes[0].IsTyping)
	assert.Equal(t, "alice", writes[0].UserName)

	// 1999ms since the last keystroke
	clk.Advance(1499 * time.Millisecond)
	assert.Zero(t, countTyping(typingWrites(t, rec, "general", "u1"), false))

	clk.Advance(time.Millisecond)
	clk.Advance(10 * time.Second)
	writes = typingWrites(t, rec, "general", "u1")
	assert.Equal(t, 1, countTyping(writes, true))
	assert.Equal(t, 1, countTyping(writes, false))
	assert.False(t, writes[len(writes)-1].IsTyping)
	assert.Zero(t, clk.PendingTimers())

	// a second burst gets its own pair of writes
	require.NoError(t, typing.Keystroke(ctx))
	clk.Advance(2 * time.Second)
	writes = typingWrites(t, rec, "general", "u1")
	assert.Equal(t, 2, countTyping(writes, true))
	assert.Equal(t, 2, countTyping(writes, false))
}

func TestTyping_StopCancelsTimer(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	ctx := context.Background()
	typing := NewTyping(ctx, rec, newMockLogger(), clk, 2*time.Second, "u1", "alice")
	typing.MoveTo("general")

	require.NoError(t, typing.Keystroke(ctx))
	require.NoError(t, typing.Stop(ctx))
	clk.Advance(5 * time.Second)

	writes := typingWrites(t, rec, "general", "u1")
	assert.Equal(t, 1, countTyping(writes, true))
	assert.Equal(t, 1, countTyping(writes, false))

	// nothing to stop
	require.NoError(t, typing.Stop(ctx))
	assert.Len(t, typingWrites(t, rec, "general", "u1"), 2)
}

func TestTyping_ClearWritesFalseAfterIdle(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	ctx := context.Background()
	typing := NewTyping(ctx, rec, newMockLogger(), clk, 2*time.Second, "u1", "alice")
	typing.MoveTo("general")

	require.NoError(t, typing.Clear(ctx))
	assert.Empty(t, rec.writesUnder(domain.TypingPath("general")))

	require.NoError(t, typing.Keystroke(ctx))
	clk.Advance(2 * time.Second)
	require.NoError(t, typing.Clear(ctx))

	writes := typingWrites(t, rec, "general", "u1")
	assert.Equal(t, 2, countTyping(writes, false))
}

func TestTyping_RequiresRoom(t *testing.T) {
	rec := newRecordingStore(t)
	typing := NewTyping(context.Background(), rec, newMockLogger(), clock.Fake(testStart), 2*time.Second, "u1", "alice")

	assert.ErrorIs(t, typing.Keystroke(context.Background()), ErrNotJoined)
	assert.Zero(t, rec.writeCount())
}

func TestTyping_MoveToAndRename(t *testing.T) {
	rec := newRecordingStore(t)
	clk := clock.Fake(testStart)
	ctx := context.Background()
	typing := NewTyping(ctx, rec, newMockLogger(), clk, 2*time.Second, "u1", "alice")
	typing.MoveTo("a")

	require.NoError(t, typing.Keystroke(ctx))
	require.NoError(t, typing.Stop(ctx))
	typing.MoveTo("b")
	typing.Rename("alicia")
	require.NoError(t, typing.Keystroke(ctx))

	assert.Len(t, typingWrites(t, rec, "a", "u1"), 2)
	writes := typingWrites(t, rec, "b", "u1")
	require.Len(t, writes, 1)
	assert.Equal(t, "alicia", writes[0].UserName)
	assert.Equal(t, "b", writes[0].RoomID)
}

func TestPresence_WatchTyping(t *testing.T) {
	rec := newRecordingStore(t)
	view := NewView(clock.Fake(testStart), DefaultConfig())
	view.ActivateRoom("general")
	presence := NewPresence(rec, view, newMockLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = presence.WatchTyping(ctx, "general", "self") }()
	require.Eventually(t, func() bool {
		return rec.WatcherCount(domain.TypingPath("general")) == 1
	}, time.Second, 5*time.Millisecond)

	set := func(userID, name string, typing bool, at domain.Millis) {
		require.NoError(t, rec.Set(ctx, domain.TypingUserPath("general", userID), domain.TypingState{
			RoomID: "general", UserID: userID, UserName: name, IsTyping: typing, UpdatedAt: at,
		}))
	}

	set("self", "me", true, 1)
	set("u1", "alice", true, 2)
	require.Eventually(t, func() bool {
		return view.Snapshot().Typing == "alice is typing…"
	}, time.Second, 5*time.Millisecond)

	set("u2", "bob", true, 3)
	set("u3", "carol", true, 4)
	require.Eventually(t, func() bool {
		return view.Snapshot().Typing == "alice and 2 others are typing…"
	}, time.Second, 5*time.Millisecond)

	set("u1", "alice", false, 5)
	set("u3", "carol", false, 6)
	require.Eventually(t, func() bool {
		return view.Snapshot().Typing == "bob is typing…"
	}, time.Second, 5*time.Millisecond)
}

func TestPresence_WatchMembers(t *testing.T) {
	rec := newRecordingStore(t)
	view := NewView(clock.Fake(testStart), DefaultConfig())
	view.ActivateRoom("general")
	presence := NewPresence(rec, view, newMockLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, m := range []domain.Membership{
		{RoomID: "general", UserID: "u2", Name: "bob", JoinedAt: 20},
		{RoomID: "general", UserID: "u1", Name: "alice", JoinedAt: 10},
	} {
		require.NoError(t, rec.Set(ctx, domain.MemberPath("general", m.UserID), m))
	}

	go func() { _ = presence.WatchMembers(ctx, "general") }()
	require.Eventually(t, func() bool {
		return len(view.Snapshot().Members) == 2
	}, time.Second, 5*time.Millisecond)

	members := view.Snapshot().Members
	assert.Equal(t, "alice", members[0].Name)
	assert.Equal(t, "bob", members[1].Name)
	assert.NotEmpty(t, members[0].AvatarURL)

	require.NoError(t, rec.Remove(ctx, domain.MemberPath("general", "u1")))
	require.Eventually(t, func() bool {
		return len(view.Snapshot().Members) == 1
	}, time.Second, 5*time.Millisecond)
}
