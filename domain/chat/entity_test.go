package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "valid", input: "alice", want: "alice"},
		{name: "trimmed", input: "  bob  ", want: "bob"},
		{name: "empty", input: "   ", wantErr: ErrUsernameEmpty},
		{name: "too short", input: "al", wantErr: ErrUsernameTooShort},
		{name: "exactly three runes", input: "Zoé", want: "Zoé"},
		{name: "twenty runes", input: strings.Repeat("é", 20), want: strings.Repeat("é", 20)},
		{name: "too long", input: strings.Repeat("a", 21), wantErr: ErrUsernameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUsername(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateUsername(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateUsername(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateUsername(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid", input: "Random"},
		{name: "empty", input: " ", wantErr: ErrRoomNameEmpty},
		{name: "thirty runes", input: strings.Repeat("ü", 30)},
		{name: "too long", input: strings.Repeat("x", 31), wantErr: ErrRoomNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRoomName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRoomName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	if _, err := ValidateMessage(" \n\t "); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("whitespace message error = %v, want ErrMessageEmpty", err)
	}
	if _, err := ValidateMessage(strings.Repeat("a", MaxMessageLength+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("oversized message error = %v, want ErrMessageTooLong", err)
	}
	got, err := ValidateMessage("  hello ")
	if err != nil || got != "hello" {
		t.Errorf("ValidateMessage() = %q, %v; want %q, nil", got, err, "hello")
	}
}

func TestSameName(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Alice", "alice", true},
		{"ALICE ", "alice", true},
		{"General", "Général", false},
		{"Général", "général", true},
		// decomposed e plus combining acute normalizes to é
		{"Général", "Général", true},
	}

	for _, tt := range tests {
		if got := SameName(tt.a, tt.b); got != tt.want {
			t.Errorf("SameName(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRecordValidate(t *testing.T) {
	valid := Message{RoomID: "general", UserID: "u1", Text: "hi", CreatedAt: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid message: %v", err)
	}
	if err := (Message{RoomID: "general", UserID: "u1", Text: "hi"}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("message without createdAt: got %v", err)
	}
	if err := (Room{ID: "general"}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("room without name: got %v", err)
	}
	if err := (TypingState{RoomID: "general"}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("typing without user: got %v", err)
	}
	if err := (Membership{RoomID: "general", UserID: "u1"}).Validate(); err != nil {
		t.Errorf("valid membership: %v", err)
	}
	if err := (User{ID: "u1"}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("user without name: got %v", err)
	}
}

func TestUser_ActiveSince(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	u := User{ID: "u1", Name: "alice", LastActiveAt: MillisOf(now)}

	if !u.ActiveSince(now.Add(-time.Minute)) {
		t.Error("ActiveSince(now-1m) = false, want true")
	}
	if u.ActiveSince(now.Add(time.Second)) {
		t.Error("ActiveSince(now+1s) = true, want false")
	}
}

func TestRecordsShareAvatarFields(t *testing.T) {
	records := map[string]any{
		"user":       User{ID: "u1", Name: "alice", AvatarSeed: "s1", AvatarStyle: AvatarBottts},
		"membership": Membership{RoomID: "general", UserID: "u1", AvatarSeed: "s1", AvatarStyle: AvatarBottts},
		"message":    Message{ID: "m1", UserID: "u1", AvatarSeed: "s1", AvatarStyle: AvatarBottts},
	}

	for name, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if fields["avatar"] != "s1" || fields["avatarType"] != string(AvatarBottts) {
			t.Errorf("%s avatar fields = %v/%v, want s1/%s", name, fields["avatar"], fields["avatarType"], AvatarBottts)
		}
	}
}

func TestAvatarURL(t *testing.T) {
	tests := []struct {
		seed  string
		style AvatarStyle
		want  string
	}{
		{"Robot", AvatarBottts, "https://api.dicebear.com/7.x/bottts/svg?seed=Robot&backgroundColor=6b7280"},
		{"Felix", AvatarAvataaars, "https://api.dicebear.com/7.x/avataaars/svg?seed=Felix&backgroundColor=4f46e5"},
		{"Felix", AvatarPixelArt, "https://api.dicebear.com/7.x/pixel-art/svg?seed=Felix"},
		{"", "", "https://api.dicebear.com/7.x/avataaars/svg?seed=User&backgroundColor=4f46e5"},
	}

	for _, tt := range tests {
		if got := AvatarURL(tt.seed, tt.style); got != tt.want {
			t.Errorf("AvatarURL(%q, %q) = %q, want %q", tt.seed, tt.style, got, tt.want)
		}
	}
}

func TestParseAvatarStyle(t *testing.T) {
	if s, err := ParseAvatarStyle(""); err != nil || s != DefaultAvatarStyle {
		t.Errorf("ParseAvatarStyle(\"\") = %q, %v", s, err)
	}
	if s, err := ParseAvatarStyle("thumbs"); err != nil || s != AvatarThumbs {
		t.Errorf("ParseAvatarStyle(thumbs) = %q, %v", s, err)
	}
	if _, err := ParseAvatarStyle("cubism"); !errors.Is(err, ErrAvatarStyleInvalid) {
		t.Errorf("ParseAvatarStyle(cubism) error = %v", err)
	}
}

func TestPaths(t *testing.T) {
	tests := map[string]string{
		UserPath("u1"):                  "users/u1",
		RoomPath(DefaultRoomID):         "rooms/general",
		MemberPath("general", "u1"):     "rooms/general/users/u1",
		MessagePath("general", "m1"):    "messages/general/m1",
		TypingUserPath("general", "u1"): "typing/general/u1",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}
