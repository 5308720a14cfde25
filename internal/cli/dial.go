package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDialCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "dial <to>",
		Short: "Place an outbound call handled by a running bridge",
		Long: "dial asks Twilio to call <to>. Once answered, Twilio fetches TwiML from the " +
			"bridge's inbound webhook, routed by the caller id, so the bridge must be serving.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, calls, err := twilioProvider()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
			defer cancel()

			sid, err := calls.Dial(ctx, args[0], from)
			if err != nil {
				return err
			}
			fmt.Printf("Calling %s (call %s)\n", args[0], sid)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "caller id (default twilio.phoneNumber)")
	return cmd
}
