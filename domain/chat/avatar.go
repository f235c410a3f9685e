package chat

import (
	"fmt"
	"net/url"
)

// AvatarStyle selects the DiceBear collection used to draw an avatar.
type AvatarStyle string

const (
	AvatarAvataaars AvatarStyle = "avataaars"
	AvatarBottts    AvatarStyle = "bottts"
	AvatarPixelArt  AvatarStyle = "pixel-art"
	AvatarThumbs    AvatarStyle = "thumbs"
)

// DefaultAvatarStyle is used when a user has not picked one.
const DefaultAvatarStyle = AvatarAvataaars

// avatarBackgrounds gives the special picker seeds a fixed background color.
var avatarBackgrounds = map[string]string{
	"Robot": "6b7280",
	"Pixel": "3b82f6",
	"Thumb": "10b981",
}

// ParseAvatarStyle validates s. An empty string selects the default style.
func ParseAvatarStyle(s string) (AvatarStyle, error) {
	switch style := AvatarStyle(s); style {
	case "":
		return DefaultAvatarStyle, nil
	case AvatarAvataaars, AvatarBottts, AvatarPixelArt, AvatarThumbs:
		return style, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrAvatarStyleInvalid, s)
	}
}

// AvatarURL builds the image URL for a seed and style.
func AvatarURL(seed string, style AvatarStyle) string {
	if style == "" {
		style = DefaultAvatarStyle
	}
	if seed == "" {
		seed = "User"
	}
	u := fmt.Sprintf("https://api.dicebear.com/7.x/%s/svg?seed=%s", style, url.QueryEscape(seed))
	if color, ok := avatarBackgrounds[seed]; ok {
		return u + "&backgroundColor=" + color
	}
	if style == AvatarAvataaars {
		return u + "&backgroundColor=4f46e5"
	}
	return u
}
