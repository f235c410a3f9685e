package api

import (
	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/modules/chat"
)

// JoinRequest is the API request to start a chat session.
type JoinRequest struct {
	Name        string `json:"name"`
	RoomID      string `json:"room_id"`
	AvatarSeed  string `json:"avatar_seed"`
	AvatarStyle string `json:"avatar_style"`
}

// UpdateSessionRequest is the API request to rename or change the avatar.
// Absent fields are left unchanged.
type UpdateSessionRequest struct {
	Name        *string `json:"name"`
	AvatarSeed  *string `json:"avatar_seed"`
	AvatarStyle *string `json:"avatar_style"`
}

// CreateRoomRequest is the API request to create a room.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SendMessageRequest is the API request to post a message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SessionResponse is the API response for the local session.
type SessionResponse struct {
	User   domain.User `json:"user"`
	RoomID string      `json:"room_id"`
	State  string      `json:"state"`
}

// RoomListResponse is the API response for listing rooms.
type RoomListResponse struct {
	Rooms []chat.RoomSummary `json:"rooms"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
