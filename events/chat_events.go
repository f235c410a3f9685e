package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// SessionJoinedEvent is emitted when a client joins with a new identity.
type SessionJoinedEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionLeftEvent is emitted after a client removed its user record.
type SessionLeftEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomSwitchedEvent is emitted when a session moves to another room.
type RoomSwitchedEvent struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	FromRoomID string    `json:"from_room_id,omitempty"`
	ToRoomID   string    `json:"to_room_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomCreatedEvent is emitted when a new room is created.
type RoomCreatedEvent struct {
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name"`
	CreatedBy string    `json:"created_by"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSentEvent is emitted when a message was stored.
type MessageSentEvent struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var (
	SessionJoinedV1 = helper.EventDefinition[SessionJoinedEvent](
		"chat",
		"SessionJoined",
		"v1",
	)

	SessionLeftV1 = helper.EventDefinition[SessionLeftEvent](
		"chat",
		"SessionLeft",
		"v1",
	)

	RoomSwitchedV1 = helper.EventDefinition[RoomSwitchedEvent](
		"chat",
		"RoomSwitched",
		"v1",
	)

	RoomCreatedV1 = helper.EventDefinition[RoomCreatedEvent](
		"chat",
		"RoomCreated",
		"v1",
	)

	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)
)
