package chat

import (
	"testing"
	"time"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCounter(t *testing.T) {
	tests := []struct {
		count int
		level string
	}{
		{count: 0, level: "normal"},
		{count: 70, level: "normal"},
		{count: 71, level: "warning"},
		{count: 90, level: "warning"},
		{count: 91, level: "danger"},
		{count: 100, level: "danger"},
	}

	for _, tt := range tests {
		c := newMessageCounter(tt.count, 100)
		assert.Equal(t, tt.level, c.Level, "count %d", tt.count)
	}
	assert.Equal(t, "42/100 messages", newMessageCounter(42, 100).Text)
}

func TestView_IgnoresInactiveRooms(t *testing.T) {
	v := NewView(clock.Fake(testStart), DefaultConfig())
	v.ActivateRoom("a")

	msg := domain.Message{ID: "m1", RoomID: "b", UserID: "u1", Text: "hi", CreatedAt: 1}
	v.RenderMessages("b", []domain.Message{msg})
	v.AppendMessage("b", msg)
	v.RenderTyping("b", "bob is typing…")
	v.RenderMembers("b", []domain.Membership{{RoomID: "b", UserID: "u1"}})
	v.RenderMessageCount("b", 50, 100)

	snap := v.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Typing)
	assert.Empty(t, snap.Members)
	assert.Zero(t, snap.Counter.Count)
	assert.False(t, v.HasMessage("b", "m1"))
}

func TestView_MessagesDedup(t *testing.T) {
	v := NewView(clock.Fake(testStart), DefaultConfig())
	v.RenderSession(&domain.User{ID: "u1", Name: "alice"})
	v.ActivateRoom("a")

	m1 := domain.Message{ID: "m1", RoomID: "a", UserID: "u1", Text: "one", CreatedAt: 1}
	m2 := domain.Message{ID: "m2", RoomID: "a", UserID: "u2", Text: "two", CreatedAt: 2}
	v.RenderMessages("a", []domain.Message{m1})
	v.AppendMessage("a", m1)
	v.AppendMessage("a", m2)

	snap := v.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.True(t, snap.Messages[0].Own)
	assert.False(t, snap.Messages[1].Own)
	assert.True(t, v.HasMessage("a", "m2"))

	// switching rooms forgets what was shown
	v.ActivateRoom("b")
	assert.Empty(t, v.Snapshot().Messages)
	assert.False(t, v.HasMessage("b", "m1"))
}

func TestView_FieldErrorExpires(t *testing.T) {
	clk := clock.Fake(testStart)
	v := NewView(clk, DefaultConfig())

	v.FieldError("username", "too short")
	clk.Advance(2 * time.Second)
	v.FieldError("username", "taken")

	// the first timer fires but the newer error stays
	clk.Advance(time.Second)
	assert.Equal(t, "taken", v.Snapshot().FieldErrors["username"])

	clk.Advance(2 * time.Second)
	assert.NotContains(t, v.Snapshot().FieldErrors, "username")
}

func TestView_ClearFieldError(t *testing.T) {
	clk := clock.Fake(testStart)
	v := NewView(clk, DefaultConfig())

	v.FieldError("roomName", "exists")
	v.ClearFieldError("roomName")
	assert.NotContains(t, v.Snapshot().FieldErrors, "roomName")

	v.FieldError("roomName", "again")
	clk.Advance(3 * time.Second)
	assert.Empty(t, v.Snapshot().FieldErrors)
}

func TestView_AlertsAreCapped(t *testing.T) {
	v := NewView(clock.Fake(testStart), DefaultConfig())
	for _, a := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		v.Alert(a)
	}
	assert.Equal(t, []string{"3", "4", "5", "6", "7"}, v.Snapshot().Alerts)
}

func TestView_OnChange(t *testing.T) {
	v := NewView(clock.Fake(testStart), DefaultConfig())

	var versions []uint64
	v.OnChange(func(s ViewState) { versions = append(versions, s.Version) })

	v.RenderConnection(true)
	v.RenderConnection(true)
	v.ClearInput()

	assert.Equal(t, []uint64{1, 2}, versions)
	assert.True(t, v.Snapshot().Connected)
	assert.Equal(t, uint64(1), v.Snapshot().InputResets)
}

func TestView_RenderSessionNilResets(t *testing.T) {
	v := NewView(clock.Fake(testStart), DefaultConfig())
	v.RenderSession(&domain.User{ID: "u1", Name: "alice", AvatarSeed: "x"})
	v.ActivateRoom("a")
	v.RenderTyping("a", "bob is typing…")

	snap := v.Snapshot()
	require.NotNil(t, snap.User)
	assert.NotEmpty(t, snap.User.AvatarURL)

	v.RenderSession(nil)
	snap = v.Snapshot()
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.ActiveRoomID)
	assert.Empty(t, snap.Typing)
}
