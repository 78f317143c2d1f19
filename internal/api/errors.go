package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	// Message is the server-provided explanation, suitable for showing to
	// the user, or the HTTP status text when the body had none.
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

const maxRawMessage = 200

func newError(status int, body []byte) *Error {
	return &Error{StatusCode: status, Message: extractMessage(status, body)}
}

// extractMessage looks for the first usable message in the common error
// envelopes: {"message"}, {"error"}, {"error":{"message"}}, {"detail"}.
func extractMessage(status int, body []byte) string {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, key := range []string{"message", "error", "detail", "errors"} {
			if msg := messageFrom(envelope[key]); msg != "" {
				return msg
			}
		}
	}
	raw := strings.TrimSpace(string(body))
	if raw != "" && !strings.HasPrefix(raw, "{") && !strings.HasPrefix(raw, "<") {
		if utf8.RuneCountInString(raw) > maxRawMessage {
			raw = string([]rune(raw)[:maxRawMessage])
		}
		return raw
	}
	return http.StatusText(status)
}

func messageFrom(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return messageFrom(v["message"])
	case []any:
		for _, item := range v {
			if msg := messageFrom(item); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// Describe builds a user-facing failure line: the server's explanation
// when it sent one, otherwise a hint about the likely cause.
func Describe(prefix string, err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return prefix + ": " + apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return prefix + ": the server took too long to respond"
	}
	return prefix + ". Check your connection and try again."
}
