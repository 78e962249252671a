package delivery

import (
	"context"
	"errors"
	"fmt"

	"delivery-sync/internal/api"

	"github.com/go-playground/validator/v10"
)

var (
	ErrStopped  = errors.New("delivery hub stopped")
	ErrNoRoom   = errors.New("no room is focused")
	ErrEmpty    = errors.New("message is empty")
	ErrUnknown  = errors.New("unknown notification")
	ErrChatOff  = errors.New("chat is disabled")
	ErrNotifOff = errors.New("notifications are disabled")
)

// ActionError is the result of a user action that did not go through.
// Reason is short and fit for display.
type ActionError struct {
	Action string
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Action, e.Reason, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func actionFailed(action string, err error) *ActionError {
	var invalid validator.ValidationErrors
	reason := "request failed"
	switch {
	case errors.Is(err, ErrStopped):
		reason = "not running"
	case errors.Is(err, ErrNoRoom):
		reason = "open a room first"
	case errors.Is(err, ErrEmpty):
		reason = "nothing to send"
	case errors.Is(err, ErrUnknown), errors.Is(err, api.ErrNotFound):
		reason = "not found"
	case errors.Is(err, ErrChatOff), errors.Is(err, ErrNotifOff):
		reason = "feature disabled"
	case errors.Is(err, api.ErrUnauthorized):
		reason = "not authorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "timed out"
	case errors.As(err, &invalid):
		reason = "invalid input"
	}
	return &ActionError{Action: action, Reason: reason, Err: err}
}
