package chat

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRoomID is the distinguished room every client falls back to.
const DefaultRoomID = "general"

// Default room record written when the rooms collection is empty.
const (
	DefaultRoomName        = "Général"
	DefaultRoomDescription = "General discussion"
)

// ErrInvalidRecord is returned by Validate when a record decoded from the
// store is missing required fields.
var ErrInvalidRecord = errors.New("invalid record")

// Millis is a timestamp stored as Unix milliseconds.
type Millis int64

// MillisOf converts t to store milliseconds.
func MillisOf(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts m back to a time.Time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// User is the record stored under users/{id}.
type User struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	AvatarSeed    string      `json:"avatar"`
	AvatarStyle   AvatarStyle `json:"avatarType"`
	LastActiveAt  Millis      `json:"lastActiveAt"`
	CurrentRoomID string      `json:"currentRoomId,omitempty"`
}

// Validate checks the fields every user record must carry.
func (u User) Validate() error {
	if u.ID == "" || u.Name == "" {
		return fmt.Errorf("%w: user requires id and name", ErrInvalidRecord)
	}
	return nil
}

// ActiveSince reports whether the user refreshed its heartbeat at or after t.
func (u User) ActiveSince(t time.Time) bool {
	return !u.LastActiveAt.Time().Before(t)
}

// Room is the record stored under rooms/{id}. Rooms are never mutated after
// creation.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   Millis `json:"createdAt"`
	CreatedBy   string `json:"createdBy"`
}

func (r Room) Validate() error {
	if r.ID == "" || r.Name == "" {
		return fmt.Errorf("%w: room requires id and name", ErrInvalidRecord)
	}
	return nil
}

// Message is the record stored under messages/{roomId}/{messageId}. The
// sender name and avatar are snapshots taken at send time and are not
// rewritten when the sender later renames.
type Message struct {
	ID          string      `json:"id,omitempty"`
	RoomID      string      `json:"roomId"`
	UserID      string      `json:"userId"`
	UserName    string      `json:"userName"`
	AvatarSeed  string      `json:"avatar"`
	AvatarStyle AvatarStyle `json:"avatarType"`
	Text        string      `json:"text"`
	CreatedAt   Millis      `json:"createdAt"`
}

func (m Message) Validate() error {
	if m.RoomID == "" || m.UserID == "" || m.Text == "" {
		return fmt.Errorf("%w: message requires roomId, userId and text", ErrInvalidRecord)
	}
	if m.CreatedAt <= 0 {
		return fmt.Errorf("%w: message requires createdAt", ErrInvalidRecord)
	}
	return nil
}

// TypingState is the ephemeral record stored under typing/{roomId}/{userId}.
// It is overwritten on every debounce cycle and set false, never deleted,
// after the idle window.
type TypingState struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsTyping  bool   `json:"isTyping"`
	UpdatedAt Millis `json:"updatedAt"`
}

func (t TypingState) Validate() error {
	if t.RoomID == "" || t.UserID == "" {
		return fmt.Errorf("%w: typing state requires roomId and userId", ErrInvalidRecord)
	}
	return nil
}

// Membership is the presence record stored under rooms/{roomId}/users/{userId}.
type Membership struct {
	RoomID      string      `json:"roomId"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name"`
	AvatarSeed  string      `json:"avatar,omitempty"`
	AvatarStyle AvatarStyle `json:"avatarType,omitempty"`
	JoinedAt    Millis      `json:"joinedAt"`
}

func (m Membership) Validate() error {
	if m.RoomID == "" || m.UserID == "" {
		return fmt.Errorf("%w: membership requires roomId and userId", ErrInvalidRecord)
	}
	return nil
}
