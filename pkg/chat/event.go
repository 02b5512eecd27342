// Package chat defines the wire types shared by the relay, the stream reducer
// and the conversation API: the stream event union, chat requests and the
// conversation/message records of the backend CRUD contract.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the required discriminant of a stream event payload.
type EventType string

const (
	EventTypeConversationID EventType = "conversation_id"
	EventTypeToken          EventType = "token"
	EventTypeDone           EventType = "done"
	EventTypeError          EventType = "error"
)

// Event is one decoded stream event. The set of implementations is closed:
// ConversationAssigned, TokenAppended, StreamCompleted and StreamFailed.
type Event interface {
	Type() EventType

	// Terminal reports whether no further events may follow this one.
	Terminal() bool

	sealed()
}

// ConversationAssigned carries the identifier the caller must use for
// subsequent turns. Sent at most once, and only when the request did not
// already name a conversation.
type ConversationAssigned struct {
	ConversationID string
}

// TokenAppended carries a UTF-8 fragment of the assistant answer. Fragments
// are not aligned to word boundaries.
type TokenAppended struct {
	Text string
}

// StreamCompleted is the last event of a successful stream.
type StreamCompleted struct{}

// StreamFailed replaces StreamCompleted when the upstream fails. Message is
// the raw upstream cause and is meant for diagnostics only.
type StreamFailed struct {
	Message string
}

func (ConversationAssigned) Type() EventType { return EventTypeConversationID }
func (TokenAppended) Type() EventType        { return EventTypeToken }
func (StreamCompleted) Type() EventType      { return EventTypeDone }
func (StreamFailed) Type() EventType         { return EventTypeError }

func (ConversationAssigned) Terminal() bool { return false }
func (TokenAppended) Terminal() bool        { return false }
func (StreamCompleted) Terminal() bool      { return true }
func (StreamFailed) Terminal() bool         { return true }

func (ConversationAssigned) sealed() {}
func (TokenAppended) sealed()        {}
func (StreamCompleted) sealed()      {}
func (StreamFailed) sealed()         {}

// wireEvent is the JSON shape of every event payload. Pointer fields let
// DecodeEvent tell a missing field from an empty one.
type wireEvent struct {
	Type           *EventType `json:"type"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	Content        *string    `json:"content,omitempty"`
	Message        *string    `json:"message,omitempty"`
}

// DecodeEvent parses one JSON event payload (the text after "data: ").
// Payloads that are not JSON, lack the "type" discriminant, carry an unknown
// type or miss a field required by their type return a *MalformedEventError.
func DecodeEvent(payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &MalformedEventError{Payload: string(payload), Err: err}
	}

	if w.Type == nil {
		return nil, &MalformedEventError{Payload: string(payload), Err: errMissingType}
	}

	switch *w.Type {
	case EventTypeConversationID:
		if w.ConversationID == nil || *w.ConversationID == "" {
			return nil, &MalformedEventError{Payload: string(payload), Err: ErrMissingConversationID}
		}
		return ConversationAssigned{ConversationID: *w.ConversationID}, nil

	case EventTypeToken:
		if w.Content == nil {
			return nil, &MalformedEventError{Payload: string(payload), Err: errMissingContent}
		}
		return TokenAppended{Text: *w.Content}, nil

	case EventTypeDone:
		return StreamCompleted{}, nil

	case EventTypeError:
		ev := StreamFailed{}
		if w.Message != nil {
			ev.Message = *w.Message
		}
		return ev, nil

	default:
		return nil, &MalformedEventError{
			Payload: string(payload),
			Err:     fmt.Errorf("unknown event type %q", *w.Type),
		}
	}
}

// EncodeEvent renders ev as the JSON payload of a "data: " line.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("cannot encode nil event")
	}

	t := ev.Type()
	w := wireEvent{Type: &t}

	switch e := ev.(type) {
	case ConversationAssigned:
		w.ConversationID = &e.ConversationID
	case TokenAppended:
		w.Content = &e.Text
	case StreamFailed:
		w.Message = &e.Message
	}

	return json.Marshal(w)
}

var (
	errMissingType    = errors.New("missing event type")
	errMissingContent = errors.New("token event missing content")
)
