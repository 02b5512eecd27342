package reducer

import "github.com/papercomputeco/chatrelay/pkg/transcript"

// MutationKind identifies what a Mutation changed.
type MutationKind int

const (
	// MutationTurnOpened is the first token of an answer: a new open
	// assistant turn.
	MutationTurnOpened MutationKind = iota

	// MutationTurnUpdated is a token appended to the open turn.
	MutationTurnUpdated

	// MutationTurnClosed is the answer turn closed on completion.
	MutationTurnClosed

	// MutationTurnFailed is the answer turn closed with the failure notice.
	MutationTurnFailed

	// MutationConversationCreated asks the UI to refresh its conversation
	// list and route to the newly assigned conversation.
	MutationConversationCreated

	// MutationPreviewRefreshed asks the UI to refresh the last-message
	// preview of the current conversation.
	MutationPreviewRefreshed
)

func (k MutationKind) String() string {
	switch k {
	case MutationTurnOpened:
		return "turn_opened"
	case MutationTurnUpdated:
		return "turn_updated"
	case MutationTurnClosed:
		return "turn_closed"
	case MutationTurnFailed:
		return "turn_failed"
	case MutationConversationCreated:
		return "conversation_created"
	case MutationPreviewRefreshed:
		return "preview_refreshed"
	default:
		return "unknown"
	}
}

// Mutation is one change applied by the reducer. Turn is a copy of the turn
// after the change, so receivers may keep it without synchronization.
type Mutation struct {
	Kind MutationKind
	Turn transcript.Turn

	// ConversationID is set on MutationConversationCreated and, when known,
	// on MutationPreviewRefreshed.
	ConversationID string
}

// Notifier is the UI collaborator told about every mutation, in order.
// Notify is called synchronously from the reducer; rendering throttles are
// the notifier's concern.
type Notifier interface {
	Notify(m Mutation)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(m Mutation)

func (f NotifierFunc) Notify(m Mutation) {
	f(m)
}
