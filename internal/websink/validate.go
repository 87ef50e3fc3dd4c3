// ABOUTME: Validation rules for chat sent from the dashboard
// ABOUTME: Invalid sends are dropped without telling the browser

package websink

import (
	"strings"
	"unicode/utf8"
)

// MaxChatLength is the longest message, in runes before trimming, that the
// dashboard may send.
const MaxChatLength = 100

// SendRequest is the payload of an inbound sendMessage event.
type SendRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// ValidateSend applies the web chat rules to req and returns the text to
// say. The target agent being online is checked by the caller.
func ValidateSend(allowWebChat bool, req SendRequest) (string, bool) {
	if !allowWebChat {
		return "", false
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return "", false
	}
	if utf8.RuneCountInString(req.Message) > MaxChatLength {
		return "", false
	}
	return text, true
}
