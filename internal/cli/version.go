package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of voicebridge",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicebridge %s\n", voicebridge.Version)
		},
	}
}
