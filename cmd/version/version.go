// Package versioncmder
package versioncmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "displays version",
		Long:  "displays the version, commit, and build time of this CLI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cliui.NewOutput(cmd.OutOrStdout())
			out.Printf("%s %s\n", cliui.KeyStyle.Render("Version:"), cliui.ValueStyle.Render(utils.Version))
			out.Printf("%s %s\n", cliui.KeyStyle.Render("Sha:"), cliui.ValueStyle.Render(utils.Sha))
			out.Printf("%s %s\n", cliui.KeyStyle.Render("Built at:"), cliui.ValueStyle.Render(utils.Buildtime))
			return nil
		},
	}

	return cmd
}
