// Package transcript holds the client-visible state of one conversation
// view: an ordered list of turns where only the last assistant turn may
// still be receiving text.
package transcript

import (
	"errors"
	"time"

	"github.com/papercomputeco/chatrelay/pkg/chat"
)

var (
	// ErrTurnOpen is returned when a turn is started while another is open.
	ErrTurnOpen = errors.New("a turn is still open")

	// ErrNoOpenTurn is returned when mutating an open turn that doesn't exist.
	ErrNoOpenTurn = errors.New("no open turn")
)

// Turn is one message of the transcript.
type Turn struct {
	// ID is the stable identity of the turn, increasing with position.
	ID int

	Role    chat.Role
	Content string

	// Open is true while the turn still receives streamed text.
	Open bool

	// Timestamp is the backend timestamp for loaded history, or the local
	// creation time for turns created in this view.
	Timestamp string
}

// Transcript is the ordered turn list of one conversation view. It has a
// single writer (the active stream reducer) and is not safe for concurrent
// use; readers receive value copies.
type Transcript struct {
	turns  []Turn
	nextID int
	now    func() time.Time
}

// New returns an empty transcript for a new conversation.
func New() *Transcript {
	return &Transcript{
		nextID: 1,
		now:    time.Now,
	}
}

// FromMessages returns a transcript holding previously stored messages, all
// closed. Messages with an unknown role are skipped.
func FromMessages(messages []chat.Message) *Transcript {
	t := New()
	for _, m := range messages {
		if !m.Role.Valid() {
			continue
		}
		t.turns = append(t.turns, Turn{
			ID:        t.nextID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
		t.nextID++
	}
	return t
}

// AppendUser adds a closed user turn.
func (t *Transcript) AppendUser(content string) (Turn, error) {
	return t.append(chat.RoleUser, content, false)
}

// OpenAssistant adds an open assistant turn with initial content.
func (t *Transcript) OpenAssistant(content string) (Turn, error) {
	return t.append(chat.RoleAssistant, content, true)
}

// UpdateOpen replaces the content of the open turn.
func (t *Transcript) UpdateOpen(content string) (Turn, error) {
	i, ok := t.openIndex()
	if !ok {
		return Turn{}, ErrNoOpenTurn
	}

	t.turns[i].Content = content
	return t.turns[i], nil
}

// CloseOpen makes the open turn immutable.
func (t *Transcript) CloseOpen() (Turn, error) {
	i, ok := t.openIndex()
	if !ok {
		return Turn{}, ErrNoOpenTurn
	}

	t.turns[i].Open = false
	return t.turns[i], nil
}

// Open returns the open turn, if any.
func (t *Transcript) Open() (Turn, bool) {
	i, ok := t.openIndex()
	if !ok {
		return Turn{}, false
	}
	return t.turns[i], true
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Turns returns a copy of all turns in order.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

func (t *Transcript) append(role chat.Role, content string, open bool) (Turn, error) {
	if _, ok := t.openIndex(); ok {
		return Turn{}, ErrTurnOpen
	}

	turn := Turn{
		ID:        t.nextID,
		Role:      role,
		Content:   content,
		Open:      open,
		Timestamp: t.now().UTC().Format(time.RFC3339),
	}
	t.nextID++
	t.turns = append(t.turns, turn)

	return turn, nil
}

// openIndex returns the index of the open turn. Only the last turn can be open.
func (t *Transcript) openIndex() (int, bool) {
	if len(t.turns) == 0 {
		return 0, false
	}

	i := len(t.turns) - 1
	return i, t.turns[i].Open
}
