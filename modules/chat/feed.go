package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/time/rate"
)

// Feed mirrors the message history of a room and sends new messages.
type Feed struct {
	store     store.Store
	renderer  Renderer
	notifier  Notifier
	logger    types.Logger
	clock     clock.Clock
	retention int
	limiter   *rate.Limiter
}

// NewFeed creates a feed. Sends are limited to one per cfg.SendCooldown.
func NewFeed(s store.Store, r Renderer, n Notifier, logger types.Logger, clk clock.Clock, cfg Config) *Feed {
	cfg = cfg.withDefaults()
	return &Feed{
		store:     s,
		renderer:  r,
		notifier:  n,
		logger:    logger,
		clock:     clk,
		retention: cfg.RetentionCap,
		limiter:   rate.NewLimiter(rate.Every(cfg.SendCooldown), 1),
	}
}

// LoadHistory renders the newest messages of roomID on every change of the
// room's history until ctx ends.
func (f *Feed) LoadHistory(ctx context.Context, roomID string) error {
	for snap, err := range store.Snapshots(ctx, f.store, domain.MessagesPath(roomID)) {
		if err != nil {
			f.logger.Error("History subscription failed", "roomID", roomID, "error", err)
			f.notifier.Alert("Failed to load messages: " + err.Error())
			return err
		}

		msgs := f.decodeAll(roomID, snap.Children)
		total := len(msgs)
		if total > f.retention {
			msgs = msgs[total-f.retention:]
		}
		f.renderer.RenderMessages(roomID, msgs)
		f.renderer.RenderMessageCount(roomID, total, f.retention)
		f.renderer.ScrollToLatest(roomID)
	}
	return nil
}

// ListenForNewMessages appends every message added to roomID that is not
// already rendered.
func (f *Feed) ListenForNewMessages(ctx context.Context, roomID string) error {
	for c, err := range store.Added(ctx, f.store, domain.MessagesPath(roomID)) {
		if err != nil {
			f.logger.Error("Message subscription failed", "roomID", roomID, "error", err)
			return err
		}

		msg, ok := f.decode(roomID, c)
		if !ok || f.renderer.HasMessage(roomID, msg.ID) {
			continue
		}
		f.renderer.AppendMessage(roomID, msg)
		f.renderer.ScrollToLatest(roomID)
	}
	return nil
}

// Send stores text as a new message from sender in roomID, then trims the
// room to the retention cap. At most one send per cooldown is accepted;
// throttled sends return ErrSendThrottled and store nothing.
func (f *Feed) Send(ctx context.Context, text, roomID string, sender domain.User) (domain.Message, error) {
	text, err := domain.ValidateMessage(text)
	if err != nil {
		return domain.Message{}, &domain.ValidationError{Field: "message", Err: err}
	}

	if !f.limiter.AllowN(f.clock.Now(), 1) {
		f.logger.Debug("Send throttled", "userID", sender.ID, "roomID", roomID)
		return domain.Message{}, ErrSendThrottled
	}

	msg := domain.Message{
		RoomID:      roomID,
		UserID:      sender.ID,
		UserName:    sender.Name,
		AvatarSeed:  sender.AvatarSeed,
		AvatarStyle: sender.AvatarStyle,
		Text:        text,
		CreatedAt:   domain.MillisOf(f.clock.Now()),
	}

	key, err := f.store.Push(ctx, domain.MessagesPath(roomID), msg)
	if err != nil {
		f.logger.Error("Failed to send message", "roomID", roomID, "error", err)
		f.notifier.Alert("Failed to send message: " + err.Error())
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	msg.ID = key

	if removed, err := f.EnforceRetention(ctx, roomID); err != nil {
		f.logger.Warn("Failed to trim messages", "roomID", roomID, "removed", removed, "error", err)
	} else if removed > 0 {
		f.logger.Debug("Trimmed old messages", "roomID", roomID, "removed", removed)
	}

	f.renderer.ClearInput()
	return msg, nil
}

// EnforceRetention deletes the oldest messages of roomID beyond the
// retention cap, one at a time. A failure leaves the room partly trimmed.
func (f *Feed) EnforceRetention(ctx context.Context, roomID string) (int, error) {
	children, err := f.store.Children(ctx, domain.MessagesPath(roomID))
	if err != nil {
		return 0, fmt.Errorf("failed to read messages: %w", err)
	}
	if len(children) <= f.retention {
		return 0, nil
	}

	type entry struct {
		key       string
		createdAt domain.Millis
	}
	entries := make([]entry, 0, len(children))
	for _, c := range children {
		// undecodable records sort first and are trimmed first
		msg, _ := store.Decode[domain.Message](c)
		entries = append(entries, entry{key: c.Key, createdAt: msg.CreatedAt})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Or(cmp.Compare(a.createdAt, b.createdAt), strings.Compare(a.key, b.key))
	})

	removed := 0
	for _, e := range entries[:len(entries)-f.retention] {
		if err := f.store.Remove(ctx, domain.MessagePath(roomID, e.key)); err != nil {
			return removed, fmt.Errorf("failed to remove message %s: %w", e.key, err)
		}
		removed++
	}
	return removed, nil
}

// decodeAll decodes and orders messages by creation time, then key.
func (f *Feed) decodeAll(roomID string, children []store.Child) []domain.Message {
	msgs := make([]domain.Message, 0, len(children))
	for _, c := range children {
		if msg, ok := f.decode(roomID, c); ok {
			msgs = append(msgs, msg)
		}
	}
	slices.SortFunc(msgs, func(a, b domain.Message) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return msgs
}

func (f *Feed) decode(roomID string, c store.Child) (domain.Message, bool) {
	msg, err := store.Decode[domain.Message](c)
	if err == nil {
		msg.ID = c.Key
		err = msg.Validate()
	}
	if err != nil {
		f.logger.Warn("Skipping invalid message", "roomID", roomID, "key", c.Key, "error", err)
		return domain.Message{}, false
	}
	return msg, true
}
