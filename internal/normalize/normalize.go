package normalize

import (
	"strings"
	"unicode/utf8"
)

// MaxEmojiBytes bounds a reaction key. Multi-codepoint emoji (skin tones,
// ZWJ sequences) fit comfortably.
const MaxEmojiBytes = 64

// UserID returns the canonical form of an opaque user id: surrounding
// whitespace trimmed, case preserved.
func UserID(id string) string {
	return strings.TrimSpace(id)
}

// Content trims surrounding whitespace from message text. An empty result
// means the message must be rejected.
func Content(s string) string {
	return strings.TrimSpace(s)
}

// Emoji trims a reaction symbol and reports whether it is usable as a
// reaction key. Keys end up as document field names, so '.' and '$' are
// refused along with anything that isn't valid UTF-8.
func Emoji(e string) (string, bool) {
	e = strings.TrimSpace(e)
	if e == "" || len(e) > MaxEmojiBytes || !utf8.ValidString(e) {
		return "", false
	}
	if strings.ContainsAny(e, ".$ \t\n") {
		return "", false
	}
	return e, true
}
