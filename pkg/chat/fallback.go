package chat

import (
	"context"
	"errors"
	"net/http"
)

// Fixed user-readable replies substituted for upstream failures. Errors never
// surface raw to the transcript; they become one of these model turns.
const (
	fallbackBusy = "I'm getting a lot of questions right now. Give me a " +
		"moment and ask again."
	fallbackBlocked = "I can't help with that one, but I'm happy to talk " +
		"about the studio's work, process, or availability."
	fallbackOffline = "I couldn't reach my brain just now. Check your " +
		"connection and try again."
)

// FallbackMessage converts a chat error into the model turn appended to the
// transcript in place of a reply.
func FallbackMessage(err error) Message {
	return Message{Role: RoleModel, Text: fallbackText(err)}
}

func fallbackText(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return fallbackBusy
		case http.StatusUnprocessableEntity:
			return fallbackBlocked
		}
		return fallbackOffline
	case errors.Is(err, context.DeadlineExceeded):
		return fallbackBusy
	default:
		return fallbackOffline
	}
}
