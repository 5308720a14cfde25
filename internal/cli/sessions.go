package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-bridge/internal/gateway"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
)

const apiTimeout = 10 * time.Second

type sessionList struct {
	Count    int               `json:"count"`
	Sessions []session.Summary `json:"sessions"`
}

func newSessionsCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or end live calls on a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list sessionList
			if err := callAPI(cmd.Context(), http.MethodGet, baseURL+gateway.PathSessions, &list); err != nil {
				return err
			}
			if list.Count == 0 {
				fmt.Println("No active sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CALL SID\tTENANT\tWORKFLOW\tMODE\tSTATE\tAGE")
			for _, s := range list.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.CallID, s.TenantID, dash(s.WorkflowID), s.Mode, dash(s.State),
					time.Since(s.StartedAt).Round(time.Second))
			}
			return w.Flush()
		},
	}
	cmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "bridge base URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "end <call-sid>",
		Short: "Hang up a live call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := callAPI(cmd.Context(), http.MethodDelete, baseURL+gateway.PathSessions+"/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Ended %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func callAPI(ctx context.Context, method, url string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, url, body.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
