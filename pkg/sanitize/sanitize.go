package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,64}$`)

// BroadcastUserID is the id whose personal topic is the broadcast topic
const BroadcastUserID = "all"

// MessageContent strips control characters other than newline and tab and
// trims surrounding whitespace
func MessageContent(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateStringLength checks if the rune count of input is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(input)
	return n >= minLen && n <= maxLen
}

// ValidUserID checks that id is usable inside a topic name and does not
// name the broadcast topic
func ValidUserID(id string) bool {
	return id != BroadcastUserID && userIDRegex.MatchString(id)
}
