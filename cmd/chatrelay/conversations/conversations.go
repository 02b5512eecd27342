// Package conversationscmder provides the conversations command for managing
// stored conversations through the chatrelay API server.
package conversationscmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/chatapi"
	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/config"
)

const conversationsLongDesc string = `Manage conversations stored by the chat backend.

Use subcommands to list, rename, delete, or read conversations:
  chatrelay conversations list                 List your conversations
  chatrelay conversations history <id>         Print the messages of a conversation
  chatrelay conversations rename <id> <title>  Rename a conversation
  chatrelay conversations delete <id>          Delete a conversation`

const conversationsShortDesc string = "Manage stored conversations"

// commander holds what every conversations subcommand needs.
type commander struct {
	apiTarget string
	userID    string

	client *chatapi.Client
	out    *cliui.Output
}

func NewConversationsCmd() *cobra.Command {
	cmder := &commander{}

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   conversationsShortDesc,
		Long:    conversationsLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPITarget, config.FlagUserID})

			cmder.apiTarget = v.GetString("client.api_target")
			cmder.userID = strings.TrimSpace(v.GetString("client.user_id"))

			cmder.client, err = chatapi.New(cmder.apiTarget)
			if err != nil {
				return fmt.Errorf("api target: %w", err)
			}
			cmder.out = cliui.NewOutput(cmd.OutOrStdout())
			return nil
		},
	}

	addPersistentStringFlag(cmd, config.FlagAPITarget, &cmder.apiTarget)
	addPersistentStringFlag(cmd, config.FlagUserID, &cmder.userID)

	cmd.AddCommand(newListCmd(cmder))
	cmd.AddCommand(newHistoryCmd(cmder))
	cmd.AddCommand(newRenameCmd(cmder))
	cmd.AddCommand(newDeleteCmd(cmder))

	return cmd
}

// addPersistentStringFlag registers a registry flag on cmd and all of its
// subcommands.
func addPersistentStringFlag(cmd *cobra.Command, key string, target *string) {
	carrier := &cobra.Command{}
	config.AddStringFlag(carrier, config.Flags, key, target)
	cmd.PersistentFlags().AddFlagSet(carrier.Flags())
}

func (c *commander) requireUser() error {
	if c.userID == "" {
		return errors.New("a user id is required: pass --user-id or run \"chatrelay config set client.user_id <id>\"")
	}
	return nil
}
