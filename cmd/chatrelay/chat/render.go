package chatcmder

import (
	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/reducer"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
)

// streamRenderer prints an answer as it streams. Only the text added since
// the previous mutation is written, so the terminal never redraws.
type streamRenderer struct {
	out     *cliui.Output
	started bool
	printed int

	onCreated func(id string)
	onPreview func(id string)
}

func newStreamRenderer(out *cliui.Output) *streamRenderer {
	return &streamRenderer{out: out}
}

func (s *streamRenderer) Notify(m reducer.Mutation) {
	switch m.Kind {
	case reducer.MutationTurnOpened, reducer.MutationTurnUpdated:
		s.begin()
		if len(m.Turn.Content) > s.printed {
			s.out.Print(m.Turn.Content[s.printed:])
			s.printed = len(m.Turn.Content)
		}

	case reducer.MutationTurnClosed:
		s.begin()
		s.out.Println("")

	case reducer.MutationTurnFailed:
		if s.started {
			s.out.Println("")
		}
		s.started = true
		s.out.Printf("  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(m.Turn.Content))

	case reducer.MutationConversationCreated:
		if s.onCreated != nil {
			s.onCreated(m.ConversationID)
		}

	case reducer.MutationPreviewRefreshed:
		if s.onPreview != nil {
			s.onPreview(m.ConversationID)
		}
	}
}

func (s *streamRenderer) begin() {
	if s.started {
		return
	}
	s.started = true
	s.out.Print(cliui.AssistantPrompt)
}

// cancelled ends an answer abandoned with Ctrl+C.
func (s *streamRenderer) cancelled() {
	if s.started {
		s.out.Println("")
	}
	s.out.Printf("  %s\n", cliui.DimStyle.Render("(cancelled)"))
}

// printTurns prints stored turns. Assistant answers are rendered as markdown
// on a terminal.
func printTurns(out *cliui.Output, turns []transcript.Turn) {
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			out.Printf("%s%s\n", cliui.UserPrompt, turn.Content)
		case chat.RoleAssistant:
			content := turn.Content
			if out.IsTerminal() {
				if rendered, err := cliui.RenderMarkdown(content); err == nil {
					content = rendered
				}
			}
			out.Printf("%s%s\n", cliui.AssistantPrompt, content)
		}
	}
	out.Println("")
}
