package chat

import "path"

// Collection roots of the store schema.
const (
	UsersPath    = "users"
	RoomsPath    = "rooms"
	MessagesRoot = "messages"
	TypingRoot   = "typing"
)

// UserPath is users/{userId}.
func UserPath(userID string) string { return path.Join(UsersPath, userID) }

// RoomPath is rooms/{roomId}.
func RoomPath(roomID string) string { return path.Join(RoomsPath, roomID) }

// MembersPath is rooms/{roomId}/users, the presence collection of a room.
func MembersPath(roomID string) string { return path.Join(RoomsPath, roomID, "users") }

// MemberPath is rooms/{roomId}/users/{userId}.
func MemberPath(roomID, userID string) string { return path.Join(MembersPath(roomID), userID) }

// MessagesPath is messages/{roomId}.
func MessagesPath(roomID string) string { return path.Join(MessagesRoot, roomID) }

// MessagePath is messages/{roomId}/{messageId}.
func MessagePath(roomID, messageID string) string {
	return path.Join(MessagesPath(roomID), messageID)
}

// TypingPath is typing/{roomId}.
func TypingPath(roomID string) string { return path.Join(TypingRoot, roomID) }

// TypingUserPath is typing/{roomId}/{userId}.
func TypingUserPath(roomID, userID string) string {
	return path.Join(TypingPath(roomID), userID)
}
