package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage indicates a chat request without message text.
	ErrEmptyMessage = errors.New("message is required")

	// ErrMissingUserID indicates a request without the caller's user id.
	ErrMissingUserID = errors.New("user_id is required")

	// ErrMissingConversationID indicates a missing or empty conversation id.
	ErrMissingConversationID = errors.New("conversation_id is required")

	// ErrProtocolViolation indicates an event received after the stream
	// already reached a terminal state.
	ErrProtocolViolation = errors.New("event received after terminal state")

	// ErrStreamInterrupted indicates the stream body ended before a done or
	// error event arrived.
	ErrStreamInterrupted = errors.New("stream ended before completion")
)

// UpstreamUnavailableError is returned when the upstream could not be reached
// or answered with a non-success status before any event was streamed.
type UpstreamUnavailableError struct {
	// StatusCode is the upstream HTTP status, or 0 if no response was received.
	StatusCode int

	// Body is the (possibly truncated) upstream error body.
	Body string

	// Err is the transport error when no response was received.
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.StatusCode == 0 {
		if e.Err == nil {
			return "upstream unavailable"
		}
		return "upstream unavailable: " + e.Err.Error()
	}

	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

// UpstreamStreamError wraps a transport failure that happened after the
// stream started: a dropped connection or a read error.
type UpstreamStreamError struct {
	Err error
}

func (e *UpstreamStreamError) Error() string {
	return "upstream stream failed: " + e.Err.Error()
}

func (e *UpstreamStreamError) Unwrap() error {
	return e.Err
}

// MalformedEventError is returned by DecodeEvent for payloads that are not a
// recognized stream event.
type MalformedEventError struct {
	Payload string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Err.Error()
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every error answered over HTTP.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status,omitempty"`
	Details any    `json:"details,omitempty"`
}
