package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
)

// Summarize renders the typing indicator for the other users typing.
func Summarize(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
	}
}

// Typing debounces the local user's typing state in the current room. The
// first keystroke after an idle period writes isTyping=true, and the idle
// timer expiring writes isTyping=false once.
type Typing struct {
	store  store.Store
	logger types.Logger
	clock  clock.Clock
	idle   time.Duration
	ctx    context.Context

	mu       sync.Mutex
	roomID   string
	userID   string
	userName string
	active   bool
	written  bool
	timer    clock.Timer
	gen      uint64
}

// NewTyping creates a typing tracker for userID. ctx bounds the writes made
// when the idle timer fires.
func NewTyping(ctx context.Context, s store.Store, logger types.Logger, clk clock.Clock, idle time.Duration, userID, userName string) *Typing {
	return &Typing{
		store:    s,
		logger:   logger,
		clock:    clk,
		idle:     idle,
		ctx:      ctx,
		userID:   userID,
		userName: userName,
	}
}

// Keystroke marks the user as typing and restarts the idle timer.
func (t *Typing) Keystroke(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.roomID == "" {
		return ErrNotJoined
	}

	var err error
	if !t.active {
		t.active = true
		err = t.write(ctx, true)
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.idle, func() { t.expire(gen) })
	return err
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.active {
		return
	}
	t.active = false
	t.timer = nil
	if err := t.write(t.ctx, false); err != nil {
		t.logger.Warn("Failed to clear typing state", "roomID", t.roomID, "error", err)
	}
}

// Stop clears the typing state now if the user is typing.
func (t *Typing) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(ctx, false)
}

// Clear writes isTyping=false for any record this tracker wrote in the
// current room, typing or not.
func (t *Typing) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(ctx, t.written)
}

func (t *Typing) stopLocked(ctx context.Context, force bool) error {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++

	if !t.active && !force {
		return nil
	}
	t.active = false
	if t.roomID == "" {
		return nil
	}
	return t.write(ctx, false)
}

// MoveTo points the tracker at roomID. Call Stop for the previous room
// first.
func (t *Typing) MoveTo(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roomID = roomID
	t.active = false
	t.written = false
}

// Rename changes the name carried by later writes.
func (t *Typing) Rename(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userName = name
}

func (t *Typing) write(ctx context.Context, typing bool) error {
	state := domain.TypingState{
		RoomID:    t.roomID,
		UserID:    t.userID,
		UserName:  t.userName,
		IsTyping:  typing,
		UpdatedAt: domain.MillisOf(t.clock.Now()),
	}
	if err := t.store.Set(ctx, domain.TypingUserPath(t.roomID, t.userID), state); err != nil {
		return fmt.Errorf("failed to write typing state: %w", err)
	}
	t.written = true
	return nil
}

// typingNames picks the other users currently typing, oldest first.
func typingNames(states []domain.TypingState, selfID string) []string {
	typing := slices.DeleteFunc(slices.Clone(states), func(s domain.TypingState) bool {
		return !s.IsTyping || s.UserID == selfID
	})
	slices.SortFunc(typing, func(a, b domain.TypingState) int {
		return cmp.Or(cmp.Compare(a.UpdatedAt, b.UpdatedAt), strings.Compare(a.UserID, b.UserID))
	})

	names := make([]string, 0, len(typing))
	for _, s := range typing {
		names = append(names, s.UserName)
	}
	return names
}
