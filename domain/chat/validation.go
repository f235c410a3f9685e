package chat

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Validation limits.
const (
	MinUsernameLength        = 3
	MaxUsernameLength        = 20
	MaxRoomNameLength        = 30
	MaxRoomDescriptionLength = 100
	MaxMessageLength         = 5000
)

// Validation errors
var (
	ErrUsernameEmpty          = errors.New("username cannot be empty")
	ErrUsernameTooShort       = errors.New("username must be at least 3 characters")
	ErrUsernameTooLong        = errors.New("username must be at most 20 characters")
	ErrUsernameInvalid        = errors.New("username contains invalid characters")
	ErrUsernameTaken          = errors.New("username is already taken")
	ErrRoomNameEmpty          = errors.New("room name cannot be empty")
	ErrRoomNameTooLong        = errors.New("room name must be at most 30 characters")
	ErrRoomNameInvalid        = errors.New("room name contains invalid characters")
	ErrRoomDescriptionTooLong = errors.New("room description must be at most 100 characters")
	ErrRoomAlreadyExists      = errors.New("room already exists")
	ErrMessageEmpty           = errors.New("message content cannot be empty")
	ErrMessageTooLong         = errors.New("message exceeds maximum length")
	ErrMessageInvalid         = errors.New("message contains invalid characters")
	ErrAvatarStyleInvalid     = errors.New("unknown avatar style")
)

// ValidationError ties a validation failure to the input field it concerns.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ValidateUsername trims name and checks its length. It returns the trimmed
// name on success.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if !utf8.ValidString(name) {
		return "", ErrUsernameInvalid
	}
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength {
		return "", ErrUsernameTooShort
	}
	if n > MaxUsernameLength {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// ValidateRoomName trims name and checks it is non-empty and at most 30 runes.
func ValidateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if !utf8.ValidString(name) {
		return "", ErrRoomNameInvalid
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return "", ErrRoomNameTooLong
	}
	return name, nil
}

// ValidateRoomDescription trims an optional room description.
func ValidateRoomDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > MaxRoomDescriptionLength {
		return "", ErrRoomDescriptionTooLong
	}
	return desc, nil
}

// ValidateMessage trims message text and rejects empty or oversized content.
func ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrMessageEmpty
	}
	if len(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	if !utf8.ValidString(text) {
		return "", ErrMessageInvalid
	}
	return text, nil
}

// NameKey returns the comparison key used for case-insensitive uniqueness of
// user and room names. Distinct letters stay distinct: "General" and
// "Général" have different keys.
func NameKey(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// SameName reports whether a and b collide under case-insensitive comparison.
func SameName(a, b string) bool {
	return NameKey(a) == NameKey(b)
}
