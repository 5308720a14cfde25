package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-bridge/callsystem"
	"github.com/agentplexus/omnivoice-bridge/internal/config"
	"github.com/agentplexus/omnivoice-bridge/internal/workflow"
)

func newNumbersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "numbers",
		Short: "List the account's phone numbers and the tenant each routes to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, calls, err := twilioProvider()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
			defer cancel()

			numbers, err := calls.Client().ListPhoneNumbers(ctx)
			if err != nil {
				return err
			}
			if len(numbers) == 0 {
				fmt.Println("No phone numbers on this account.")
				return nil
			}

			catalog := workflow.NewCatalog(cfg.Tenants, log)
			inbound := calls.WebhookURL(callsystem.PathInbound)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NUMBER\tNAME\tTENANT\tWEBHOOK")
			for _, n := range numbers {
				tenant := "-"
				if route, err := catalog.RouteNumber(n.PhoneNumber); err == nil {
					tenant = route.TenantID
				}
				webhook := n.VoiceURL
				if webhook != inbound {
					webhook += " (expected " + inbound + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.PhoneNumber, dash(n.FriendlyName), tenant, dash(webhook))
			}
			return w.Flush()
		},
	}
}

// twilioProvider builds a call provider from the config, requiring only the
// Twilio credentials.
func twilioProvider() (config.Config, *callsystem.Provider, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, nil, err
	}
	if cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" {
		return cfg, nil, &config.ConfigError{Message: "twilio.accountSid and twilio.authToken are required"}
	}
	calls, err := newCallProvider(cfg)
	return cfg, calls, err
}
