package chat

import (
	"errors"
	"time"
)

// Session errors
var (
	ErrAlreadyJoined = errors.New("a session is already active")
	ErrNotJoined     = errors.New("no active session")
	ErrSendThrottled = errors.New("sending too fast, wait before sending another message")
	ErrRoomNotFound  = errors.New("room not found")

	ErrDirectoryStopped = errors.New("room directory is not running")
)

// Config holds the timing and retention settings of a chat client.
type Config struct {
	// HeartbeatInterval is how often lastActiveAt is refreshed.
	HeartbeatInterval time.Duration
	// TypingIdle is the keystroke silence after which typing stops.
	TypingIdle time.Duration
	// SendCooldown is the minimum spacing between accepted sends.
	SendCooldown time.Duration
	// RetentionCap is the number of messages kept per room.
	RetentionCap int
	// UserStaleAfter bounds how old a heartbeat can be for the user to
	// still hold its name.
	UserStaleAfter time.Duration
	// FieldErrorTTL is how long an inline validation error stays visible.
	FieldErrorTTL time.Duration
}

// DefaultConfig returns the default chat configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		TypingIdle:        2 * time.Second,
		SendCooldown:      time.Second,
		RetentionCap:      100,
		UserStaleAfter:    5 * time.Minute,
		FieldErrorTTL:     3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.TypingIdle <= 0 {
		c.TypingIdle = d.TypingIdle
	}
	if c.SendCooldown <= 0 {
		c.SendCooldown = d.SendCooldown
	}
	if c.RetentionCap <= 0 {
		c.RetentionCap = d.RetentionCap
	}
	if c.UserStaleAfter <= 0 {
		c.UserStaleAfter = d.UserStaleAfter
	}
	if c.FieldErrorTTL <= 0 {
		c.FieldErrorTTL = d.FieldErrorTTL
	}
	return c
}
