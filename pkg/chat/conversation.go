package chat

// Role is the author of a message or transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is a conversation record as listed by the backend.
type Conversation struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	LastMessage *string `json:"last_message"`
	UpdatedAt   string  `json:"updated_at"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
}

// Preview returns the last message text, or "" when the conversation is empty.
func (c Conversation) Preview() string {
	if c.LastMessage == nil {
		return ""
	}
	return *c.LastMessage
}

// Message is one stored message of a conversation.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CreateConversationRequest is the body of a conversation create call.
type CreateConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

// RenameConversationRequest is the body of a conversation rename call.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// DeleteConversationResponse is answered after a successful delete.
type DeleteConversationResponse struct {
	Success bool `json:"success"`
}
