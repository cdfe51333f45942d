package middleware

import (
	"errors"
	"unicode/utf8"
)

// maxMessageBytes bounds a single chat message (~100KB).
const maxMessageBytes = 100000

// ValidateMessageContent validates chat message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxMessageBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}
