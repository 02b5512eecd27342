package chat

import "strings"

// Request is one user turn sent to the relay and forwarded upstream.
type Request struct {
	Message string `json:"message"`

	// ConversationID is nil for a new conversation; the stream then carries a
	// ConversationAssigned event.
	ConversationID *string `json:"conversation_id"`

	UserID string `json:"user_id"`
}

// NewRequest builds a request. An empty conversationID starts a new
// conversation.
func NewRequest(userID, conversationID, message string) Request {
	req := Request{
		Message: message,
		UserID:  userID,
	}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}
	return req
}

// Validate checks the fields the upstream requires.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if strings.TrimSpace(r.UserID) == "" {
		return ErrMissingUserID
	}
	return nil
}

// Conversation returns the conversation id, or "" for a new conversation.
func (r Request) Conversation() string {
	if r.ConversationID == nil {
		return ""
	}
	return *r.ConversationID
}
