package chat

import (
	"cmp"
	"context"
	"slices"
	"strings"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
)

// Presence mirrors who is online and who is typing in a room.
type Presence struct {
	store    store.Store
	renderer Renderer
	logger   types.Logger
}

// NewPresence creates a presence tracker.
func NewPresence(s store.Store, r Renderer, logger types.Logger) *Presence {
	return &Presence{store: s, renderer: r, logger: logger}
}

// WatchTyping renders the typing summary of roomID, excluding selfID, until
// ctx ends.
func (p *Presence) WatchTyping(ctx context.Context, roomID, selfID string) error {
	for snap, err := range store.Snapshots(ctx, p.store, domain.TypingPath(roomID)) {
		if err != nil {
			p.logger.Error("Typing subscription failed", "roomID", roomID, "error", err)
			return err
		}

		states := make([]domain.TypingState, 0, len(snap.Children))
		for _, c := range snap.Children {
			s, err := store.Decode[domain.TypingState](c)
			if err == nil {
				err = s.Validate()
			}
			if err != nil {
				p.logger.Warn("Skipping invalid typing record", "roomID", roomID, "key", c.Key, "error", err)
				continue
			}
			states = append(states, s)
		}
		p.renderer.RenderTyping(roomID, Summarize(typingNames(states, selfID)))
	}
	return nil
}

// WatchMembers renders the members of roomID in join order until ctx ends.
func (p *Presence) WatchMembers(ctx context.Context, roomID string) error {
	for snap, err := range store.Snapshots(ctx, p.store, domain.MembersPath(roomID)) {
		if err != nil {
			p.logger.Error("Members subscription failed", "roomID", roomID, "error", err)
			return err
		}

		members := make([]domain.Membership, 0, len(snap.Children))
		for _, c := range snap.Children {
			m, err := store.Decode[domain.Membership](c)
			if err == nil {
				err = m.Validate()
			}
			if err != nil {
				p.logger.Warn("Skipping invalid membership", "roomID", roomID, "key", c.Key, "error", err)
				continue
			}
			members = append(members, m)
		}
		slices.SortFunc(members, func(a, b domain.Membership) int {
			return cmp.Or(cmp.Compare(a.JoinedAt, b.JoinedAt), strings.Compare(a.UserID, b.UserID))
		})
		p.renderer.RenderMembers(roomID, members)
	}
	return nil
}
