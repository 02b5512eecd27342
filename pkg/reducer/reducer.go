// Package reducer folds a chat SSE byte stream into a transcript.
//
// A Reducer is fed raw transport chunks, splits them into lines, decodes the
// "data: " payloads into chat events and applies each event to the open
// assistant turn, notifying the UI of every change. Transport and decode
// failures never escape a Reducer: they close the answer turn with a fixed
// notice and are reported to the diagnostic log.
package reducer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/sse"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

// DefaultFailureNotice replaces the answer of a failed stream.
const DefaultFailureNotice = "Sorry, something went wrong while processing your question. Please try again."

const (
	readChunkSize = 32 * 1024

	// maxLoggedPayload bounds payload excerpts in diagnostics.
	maxLoggedPayload = 256
)

// Reducer applies one stream to a transcript. It is single-use: a new stream
// needs a new Reducer. It is not safe for concurrent use; the transcript must
// have no other writer while the stream is receiving.
type Reducer struct {
	transcript *transcript.Transcript
	notifier   Notifier
	logger     *slog.Logger
	notice     string

	// requested is the conversation the request was made for, "" when new.
	requested string

	// assigned is the id from a ConversationAssigned event, kept private
	// until the stream completes.
	assigned string

	decoder sse.LineDecoder
	answer  strings.Builder
	opened  bool
	tokens  int
	state   State
	err     error
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the diagnostic logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reducer) {
		r.logger = l
	}
}

// WithConversationID sets the conversation the request was made for. Leave
// unset for a new conversation.
func WithConversationID(id string) Option {
	return func(r *Reducer) {
		r.requested = id
	}
}

// WithFailureNotice overrides DefaultFailureNotice.
func WithFailureNotice(notice string) Option {
	return func(r *Reducer) {
		r.notice = notice
	}
}

// New creates a Reducer that applies one stream to t and reports every
// mutation to n. n may be nil when only the returned mutations are needed.
func New(t *transcript.Transcript, n Notifier, opts ...Option) *Reducer {
	r := &Reducer{
		transcript: t,
		notifier:   n,
		logger:     logger.Nop(),
		notice:     DefaultFailureNotice,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Reducer) State() State {
	return r.state
}

// Err returns the diagnostic cause of a failed stream, or nil.
func (r *Reducer) Err() error {
	return r.err
}

// ConversationID returns the conversation assigned by the stream. It stays
// empty until the stream completes.
func (r *Reducer) ConversationID() string {
	if r.state != StateCompleted {
		return ""
	}
	return r.assigned
}

// Run reads body chunk by chunk and feeds the reducer until a terminal state
// is reached. A read error or an end of body before a terminal event fails the
// stream; a cancelled ctx cancels it. Run returns the final state.
func (r *Reducer) Run(ctx context.Context, body io.Reader) State {
	buf := make([]byte, readChunkSize)

	for !r.state.Terminal() {
		n, err := body.Read(buf)
		if ctx.Err() != nil {
			r.Cancel()
			break
		}

		if n > 0 {
			r.Feed(buf[:n])
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if !r.state.Terminal() {
				if pending := r.decoder.Buffered(); pending > 0 {
					r.logger.Debug("discarding unterminated trailing line", "bytes", pending)
				}
				r.Fail(chat.ErrStreamInterrupted)
			}
		default:
			r.Fail(err)
		}
		break
	}

	return r.state
}

// Feed applies one transport chunk and returns the mutations it caused, in
// order. Lines not starting with "data: " are ignored and malformed payloads
// are logged and skipped.
func (r *Reducer) Feed(chunk []byte) []Mutation {
	if r.state.Terminal() || len(chunk) == 0 {
		return nil
	}

	if r.state == StateIdle {
		r.state = StateReceiving
	}

	var applied []Mutation
	for _, line := range r.decoder.Feed(chunk) {
		payload, ok := sse.Data(line)
		if !ok {
			continue
		}

		ev, err := chat.DecodeEvent([]byte(payload))
		if err != nil {
			r.logger.Warn("skipping malformed stream event",
				"error", err,
				"payload", utils.Truncate(payload, maxLoggedPayload),
			)
			continue
		}

		applied = append(applied, r.Apply(ev)...)
	}

	return applied
}

// Apply applies one decoded event. Events arriving after a terminal state are
// discarded.
func (r *Reducer) Apply(ev chat.Event) []Mutation {
	if r.state.Terminal() {
		r.logger.Debug("discarding event",
			"event", ev.Type(),
			"state", r.state.String(),
			"error", chat.ErrProtocolViolation,
		)
		return nil
	}

	r.state = StateReceiving

	switch e := ev.(type) {
	case chat.ConversationAssigned:
		r.assign(e.ConversationID)
		return nil

	case chat.TokenAppended:
		return r.appendToken(e.Text)

	case chat.StreamCompleted:
		return r.complete()

	case chat.StreamFailed:
		r.logger.Error("upstream reported stream failure",
			"message", e.Message,
			"tokens", r.tokens,
		)
		return r.fail(fmt.Errorf("upstream error: %s", e.Message))
	}

	return nil
}

// Fail closes the stream after a transport failure. A nil err is reported as
// chat.ErrStreamInterrupted. Fail is a no-op once the stream is terminal.
func (r *Reducer) Fail(err error) []Mutation {
	if r.state.Terminal() {
		return nil
	}
	if err == nil {
		err = chat.ErrStreamInterrupted
	}

	r.logger.Error("stream transport failed",
		"error", err,
		"tokens", r.tokens,
		"partial_answer", utils.Truncate(r.answer.String(), maxLoggedPayload),
	)

	return r.fail(&chat.UpstreamStreamError{Err: err})
}

// Cancel abandons the stream without notifying anyone. The open turn keeps
// its content and is sealed. Calling Cancel more than once, or after the
// stream ended, has no effect.
func (r *Reducer) Cancel() {
	if r.state.Terminal() {
		return
	}

	r.state = StateCancelled
	if r.opened {
		_, _ = r.transcript.CloseOpen()
	}
	r.release()

	r.logger.Debug("stream cancelled", "tokens", r.tokens)
}

func (r *Reducer) assign(id string) {
	if r.assigned != "" {
		r.logger.Warn("ignoring repeated conversation id",
			"recorded", r.assigned,
			"received", id,
		)
		return
	}
	r.assigned = id
}

func (r *Reducer) appendToken(text string) []Mutation {
	r.tokens++
	r.answer.WriteString(text)

	if !r.opened {
		turn, err := r.transcript.OpenAssistant(r.answer.String())
		if err != nil {
			r.logger.Error("could not open answer turn", "error", err)
			return nil
		}
		r.opened = true
		return r.emit(Mutation{Kind: MutationTurnOpened, Turn: turn})
	}

	turn, err := r.transcript.UpdateOpen(r.answer.String())
	if err != nil {
		r.logger.Error("could not update answer turn", "error", err)
		return nil
	}
	return r.emit(Mutation{Kind: MutationTurnUpdated, Turn: turn})
}

func (r *Reducer) complete() []Mutation {
	if !r.ensureOpen("") {
		return nil
	}

	turn, err := r.transcript.CloseOpen()
	if err != nil {
		r.logger.Error("could not close answer turn", "error", err)
		return nil
	}

	r.state = StateCompleted
	r.release()

	r.logger.Debug("stream completed",
		"tokens", r.tokens,
		"answer_bytes", len(turn.Content),
		"conversation_id", r.assigned,
	)

	applied := r.emit(Mutation{Kind: MutationTurnClosed, Turn: turn})

	if r.assigned != "" {
		return append(applied, r.emit(Mutation{
			Kind:           MutationConversationCreated,
			Turn:           turn,
			ConversationID: r.assigned,
		})...)
	}

	return append(applied, r.emit(Mutation{
		Kind:           MutationPreviewRefreshed,
		Turn:           turn,
		ConversationID: r.requested,
	})...)
}

func (r *Reducer) fail(cause error) []Mutation {
	r.err = cause

	if !r.ensureOpen(r.notice) {
		r.state = StateFailed
		r.release()
		return nil
	}

	turn, err := r.transcript.UpdateOpen(r.notice)
	if err == nil {
		turn, err = r.transcript.CloseOpen()
	}

	r.state = StateFailed
	r.release()

	if err != nil {
		r.logger.Error("could not close failed answer turn", "error", err)
		return nil
	}

	return r.emit(Mutation{Kind: MutationTurnFailed, Turn: turn})
}

// ensureOpen opens the answer turn with content if no token opened it yet.
func (r *Reducer) ensureOpen(content string) bool {
	if r.opened {
		return true
	}

	if _, err := r.transcript.OpenAssistant(content); err != nil {
		r.logger.Error("could not open answer turn", "error", err)
		return false
	}
	r.opened = true
	return true
}

// release drops per-stream buffers once the stream is terminal.
func (r *Reducer) release() {
	r.decoder.Reset()
	r.answer.Reset()
}

func (r *Reducer) emit(m Mutation) []Mutation {
	if r.notifier != nil {
		r.notifier.Notify(m)
	}
	return []Mutation{m}
}
