package conversationscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
)

func newDeleteCmd(cmder *commander) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runDelete(cmd, args[0])
		},
	}
}

func (c *commander) runDelete(cmd *cobra.Command, id string) error {
	err := c.out.Step("Deleting conversation "+cliui.IDStyle.Render(id), func() error {
		return c.client.DeleteConversation(cmd.Context(), id)
	})
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}

	c.out.Printf("\n  %s Deleted %s\n\n", cliui.SuccessMark, cliui.IDStyle.Render(id))
	return nil
}
