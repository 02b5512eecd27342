package conversationscmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/cliui"
)

func newRenameCmd(cmder *commander) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runRename(cmd, args[0], strings.Join(args[1:], " "))
		},
	}
}

func (c *commander) runRename(cmd *cobra.Command, id, title string) error {
	var conv *chat.Conversation
	err := c.out.Step("Renaming conversation "+cliui.IDStyle.Render(id), func() error {
		var err error
		conv, err = c.client.RenameConversation(cmd.Context(), id, title)
		return err
	})
	if err != nil {
		return fmt.Errorf("renaming conversation %s: %w", id, err)
	}

	c.out.Printf("\n  %s Renamed %s to %s\n\n",
		cliui.SuccessMark,
		cliui.IDStyle.Render(conv.ID),
		cliui.NameStyle.Render(conv.Title),
	)
	return nil
}
