package chat

import (
	"fmt"
	"slices"
	"sync"
	"time"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/internal/clock"
)

// Renderer receives the model updates a front-end displays. Room scoped
// calls carry the room they were computed for so a late update from a
// previous room can be told apart.
type Renderer interface {
	ActivateRoom(roomID string)
	RenderRooms(rooms []RoomSummary)
	RenderMessages(roomID string, msgs []domain.Message)
	AppendMessage(roomID string, msg domain.Message)
	HasMessage(roomID, messageID string) bool
	RenderMessageCount(roomID string, count, limit int)
	ScrollToLatest(roomID string)
	ClearInput()
	RenderTyping(roomID, summary string)
	RenderMembers(roomID string, members []domain.Membership)
	RenderConnection(connected bool)
	RenderSession(user *domain.User)
}

// Notifier surfaces errors to the user: store failures as blocking alerts
// and validation failures inline next to the offending field.
type Notifier interface {
	Alert(msg string)
	FieldError(field, msg string)
	ClearFieldError(field string)
}

// NopRenderer discards every update. It also satisfies Notifier.
type NopRenderer struct{}

var (
	_ Renderer = NopRenderer{}
	_ Notifier = NopRenderer{}
)

func (NopRenderer) ActivateRoom(string)                       {}
func (NopRenderer) RenderRooms([]RoomSummary)                 {}
func (NopRenderer) RenderMessages(string, []domain.Message)   {}
func (NopRenderer) AppendMessage(string, domain.Message)      {}
func (NopRenderer) HasMessage(string, string) bool            { return false }
func (NopRenderer) RenderMessageCount(string, int, int)       {}
func (NopRenderer) ScrollToLatest(string)                     {}
func (NopRenderer) ClearInput()                               {}
func (NopRenderer) RenderTyping(string, string)               {}
func (NopRenderer) RenderMembers(string, []domain.Membership) {}
func (NopRenderer) RenderConnection(bool)                     {}
func (NopRenderer) RenderSession(*domain.User)                {}
func (NopRenderer) Alert(string)                              {}
func (NopRenderer) FieldError(string, string)                 {}
func (NopRenderer) ClearFieldError(string)                    {}

// maxAlerts is how many recent alerts a ViewState keeps.
const maxAlerts = 5

// UserView is the local user as displayed.
type UserView struct {
	domain.User
	AvatarURL string `json:"avatarUrl"`
}

// MessageView is a rendered message.
type MessageView struct {
	domain.Message
	AvatarURL string `json:"avatarUrl"`
	Own       bool   `json:"own"`
}

// MemberView is a rendered online member.
type MemberView struct {
	domain.Membership
	AvatarURL string `json:"avatarUrl"`
}

// MessageCounter is the "n/100 messages" badge. Level turns to warning
// above 70% of the cap and danger above 90%.
type MessageCounter struct {
	Count int    `json:"count"`
	Limit int    `json:"limit"`
	Text  string `json:"text"`
	Level string `json:"level"`
}

func newMessageCounter(count, limit int) MessageCounter {
	level := "normal"
	switch {
	case limit > 0 && count*10 > limit*9:
		level = "danger"
	case limit > 0 && count*10 > limit*7:
		level = "warning"
	}
	return MessageCounter{
		Count: count,
		Limit: limit,
		Text:  fmt.Sprintf("%d/%d messages", count, limit),
		Level: level,
	}
}

// ViewState is everything a front-end needs to draw the chat screen.
type ViewState struct {
	Version      uint64            `json:"version"`
	Connected    bool              `json:"connected"`
	User         *UserView         `json:"user,omitempty"`
	ActiveRoomID string            `json:"activeRoomId,omitempty"`
	Rooms        []RoomSummary     `json:"rooms"`
	Messages     []MessageView     `json:"messages"`
	Counter      MessageCounter    `json:"counter"`
	Typing       string            `json:"typing"`
	Members      []MemberView      `json:"members"`
	Alerts       []string          `json:"alerts,omitempty"`
	FieldErrors  map[string]string `json:"fieldErrors,omitempty"`
	InputResets  uint64            `json:"inputResets"`
	Scrolls      uint64            `json:"scrolls"`
}

func (s ViewState) clone() ViewState {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Rooms = slices.Clone(s.Rooms)
	out.Messages = slices.Clone(s.Messages)
	out.Members = slices.Clone(s.Members)
	out.Alerts = slices.Clone(s.Alerts)
	if s.FieldErrors != nil {
		out.FieldErrors = make(map[string]string, len(s.FieldErrors))
		for k, v := range s.FieldErrors {
			out.FieldErrors[k] = v
		}
	}
	return out
}

// View is the in-memory Renderer and Notifier behind the HTTP view adapter.
// It drops room scoped updates for any room other than the active one.
type View struct {
	clock         clock.Clock
	fieldErrorTTL time.Duration

	mu          sync.Mutex
	state       ViewState
	messageIDs  map[string]struct{}
	fieldTokens map[string]uint64
	nextToken   uint64
	listeners   []func(ViewState)
}

var (
	_ Renderer = (*View)(nil)
	_ Notifier = (*View)(nil)
)

// NewView creates an empty view.
func NewView(clk clock.Clock, cfg Config) *View {
	cfg = cfg.withDefaults()
	return &View{
		clock:         clk,
		fieldErrorTTL: cfg.FieldErrorTTL,
		state: ViewState{
			Counter: newMessageCounter(0, cfg.RetentionCap),
		},
		messageIDs:  make(map[string]struct{}),
		fieldTokens: make(map[string]uint64),
	}
}

// OnChange registers fn to receive a copy of the state after every change.
func (v *View) OnChange(fn func(ViewState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.clone()
}

// update applies fn under the lock and notifies listeners when fn reports a
// change.
func (v *View) update(fn func(s *ViewState) bool) {
	v.mu.Lock()
	if !fn(&v.state) {
		v.mu.Unlock()
		return
	}
	v.state.Version++
	snap := v.state.clone()
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (v *View) ActivateRoom(roomID string) {
	v.update(func(s *ViewState) bool {
		s.ActiveRoomID = roomID
		s.Messages = nil
		s.Members = nil
		s.Typing = ""
		s.Counter = newMessageCounter(0, s.Counter.Limit)
		clear(v.messageIDs)
		return true
	})
}

func (v *View) RenderRooms(rooms []RoomSummary) {
	v.update(func(s *ViewState) bool {
		s.Rooms = slices.Clone(rooms)
		return true
	})
}

func (v *View) RenderMessages(roomID string, msgs []domain.Message) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID {
			return false
		}
		clear(v.messageIDs)
		s.Messages = make([]MessageView, 0, len(msgs))
		for _, m := range msgs {
			s.Messages = append(s.Messages, v.messageView(s, m))
			v.messageIDs[m.ID] = struct{}{}
		}
		return true
	})
}

func (v *View) AppendMessage(roomID string, msg domain.Message) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID {
			return false
		}
		if _, ok := v.messageIDs[msg.ID]; ok {
			return false
		}
		s.Messages = append(s.Messages, v.messageView(s, msg))
		v.messageIDs[msg.ID] = struct{}{}
		return true
	})
}

func (v *View) messageView(s *ViewState, m domain.Message) MessageView {
	return MessageView{
		Message:   m,
		AvatarURL: domain.AvatarURL(m.AvatarSeed, m.AvatarStyle),
		Own:       s.User != nil && m.UserID == s.User.ID,
	}
}

func (v *View) HasMessage(roomID, messageID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if roomID != v.state.ActiveRoomID {
		return false
	}
	_, ok := v.messageIDs[messageID]
	return ok
}

func (v *View) RenderMessageCount(roomID string, count, limit int) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID {
			return false
		}
		s.Counter = newMessageCounter(count, limit)
		return true
	})
}

func (v *View) ScrollToLatest(roomID string) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID {
			return false
		}
		s.Scrolls++
		return true
	})
}

func (v *View) ClearInput() {
	v.update(func(s *ViewState) bool {
		s.InputResets++
		return true
	})
}

func (v *View) RenderTyping(roomID, summary string) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID || s.Typing == summary {
			return false
		}
		s.Typing = summary
		return true
	})
}

func (v *View) RenderMembers(roomID string, members []domain.Membership) {
	v.update(func(s *ViewState) bool {
		if roomID != s.ActiveRoomID {
			return false
		}
		s.Members = make([]MemberView, 0, len(members))
		for _, m := range members {
			s.Members = append(s.Members, MemberView{
				Membership: m,
				AvatarURL:  domain.AvatarURL(m.AvatarSeed, m.AvatarStyle),
			})
		}
		return true
	})
}

func (v *View) RenderConnection(connected bool) {
	v.update(func(s *ViewState) bool {
		if s.Connected == connected {
			return false
		}
		s.Connected = connected
		return true
	})
}

// RenderSession shows the local user. A nil user returns the view to the
// join screen.
func (v *View) RenderSession(user *domain.User) {
	v.update(func(s *ViewState) bool {
		if user == nil {
			s.User = nil
			s.ActiveRoomID = ""
			s.Messages = nil
			s.Members = nil
			s.Typing = ""
			s.Counter = newMessageCounter(0, s.Counter.Limit)
			clear(v.messageIDs)
			return true
		}
		s.User = &UserView{User: *user, AvatarURL: domain.AvatarURL(user.AvatarSeed, user.AvatarStyle)}
		return true
	})
}

func (v *View) Alert(msg string) {
	v.update(func(s *ViewState) bool {
		s.Alerts = append(s.Alerts, msg)
		if len(s.Alerts) > maxAlerts {
			s.Alerts = s.Alerts[len(s.Alerts)-maxAlerts:]
		}
		return true
	})
}

// FieldError shows msg next to field until FieldErrorTTL passes or a newer
// error replaces it.
func (v *View) FieldError(field, msg string) {
	var token uint64
	v.update(func(s *ViewState) bool {
		if s.FieldErrors == nil {
			s.FieldErrors = make(map[string]string)
		}
		s.FieldErrors[field] = msg
		v.nextToken++
		token = v.nextToken
		v.fieldTokens[field] = token
		return true
	})

	v.clock.AfterFunc(v.fieldErrorTTL, func() {
		v.update(func(s *ViewState) bool {
			if v.fieldTokens[field] != token {
				return false
			}
			delete(v.fieldTokens, field)
			delete(s.FieldErrors, field)
			return true
		})
	})
}

func (v *View) ClearFieldError(field string) {
	v.update(func(s *ViewState) bool {
		if _, ok := s.FieldErrors[field]; !ok {
			return false
		}
		delete(v.fieldTokens, field)
		delete(s.FieldErrors, field)
		return true
	})
}
