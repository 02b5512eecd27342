package conversationscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/cliui"
)

func newHistoryCmd(cmder *commander) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runHistory(cmd, args[0])
		},
	}
}

func (c *commander) runHistory(cmd *cobra.Command, id string) error {
	messages, err := c.client.ListMessages(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", id, err)
	}

	c.out.Println("")
	if len(messages) == 0 {
		c.out.Printf("  %s\n\n", cliui.DimStyle.Render("No messages yet."))
		return nil
	}

	for _, m := range messages {
		prompt := cliui.UserPrompt
		content := m.Content
		if m.Role == chat.RoleAssistant {
			prompt = cliui.AssistantPrompt
			if c.out.IsTerminal() {
				if rendered, err := cliui.RenderMarkdown(content); err == nil {
					content = rendered
				}
			}
		}

		if m.Timestamp != "" {
			c.out.Printf("%s\n", cliui.DimStyle.Render(m.Timestamp))
		}
		c.out.Printf("%s%s\n\n", prompt, content)
	}

	return nil
}
