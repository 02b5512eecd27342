package conversationscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

const previewLen = 60

func newListCmd(cmder *commander) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.runList(cmd)
		},
	}
}

func (c *commander) runList(cmd *cobra.Command) error {
	if err := c.requireUser(); err != nil {
		return err
	}

	conversations, err := c.client.ListConversations(cmd.Context(), c.userID)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	if len(conversations) == 0 {
		c.out.Printf("\n  %s\n\n", cliui.DimStyle.Render("No conversations yet."))
		return nil
	}

	c.out.Println("")
	for _, conv := range conversations {
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		c.out.Printf("  %s  %s  %s\n",
			cliui.IDStyle.Render(conv.ID),
			cliui.NameStyle.Render(title),
			cliui.DimStyle.Render(conv.UpdatedAt),
		)
		if preview := conv.Preview(); preview != "" {
			c.out.Printf("      %s\n", cliui.DimStyle.Render(utils.Truncate(preview, previewLen)))
		}
	}
	c.out.Println("")

	return nil
}
