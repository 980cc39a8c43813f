package syncctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
	asJSON  bool
}

func (o *options) client() Client {
	return Client{BaseURL: o.server, Token: o.token, Timeout: o.timeout}
}

// NewRootCommand constructs the syncctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and drive a GEMA sync agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("GEMA_SYNC_URL", "http://127.0.0.1:8090"), "Agent base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("GEMA_SYNC_TOKEN"), "Bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	root.AddCommand(
		newStatusCommand(opts),
		newPendingCommand(opts),
		newSyncCommand(opts),
		newLimitsCommand(opts),
		newClearCommand(opts),
	)
	return root
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status dto.StatusResponse
			if err := opts.client().do(cmd.Context(), "GET", "/status", &status); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:       %s\n", status.State)
			fmt.Fprintf(out, "pending:     %d\n", status.Pending)
			fmt.Fprintf(out, "syncing:     %t\n", status.SyncInProgress)
			fmt.Fprintf(out, "max retries: %d\n", status.MaxRetries)
			if status.LastSync != nil {
				fmt.Fprintf(out, "last sync:   %s success=%d failed=%d dropped=%d total=%d\n",
					status.LastSync.Trigger, status.LastSync.Success, status.LastSync.Failed, status.LastSync.Dropped, status.LastSync.Total)
			}
			return nil
		},
	}
}

func newPendingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued actions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var actions []dto.QueuedActionResponse
			if err := opts.client().do(cmd.Context(), "GET", "/actions", &actions); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), actions)
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending actions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tACTION\tRETRIES\tQUEUED AT\tLAST ERROR")
			for _, action := range actions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					action.ID, action.Type, action.Action, action.RetryCount,
					action.Timestamp.Format(time.RFC3339), action.LastError)
			}
			return w.Flush()
		},
	}
}

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary dto.SyncSummary
			if err := opts.client().do(cmd.Context(), "POST", "/sync", &summary); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			if summary.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "sync skipped: %s\n", summary.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "success=%d failed=%d dropped=%d total=%d\n",
				summary.Success, summary.Failed, summary.Dropped, summary.Total)
			return nil
		},
	}
}

func newLimitsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "limits [action]",
		Short: "Show the caller's remaining admission budget",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := []string{ratelimit.ActionQueue, ratelimit.ActionSyncNow, ratelimit.ActionBulkImport, ratelimit.ActionAIGeneration}
			if len(args) == 1 {
				actions = args
			}

			usages := make([]ratelimit.Usage, 0, len(actions))
			for _, action := range actions {
				var usage ratelimit.Usage
				if err := opts.client().do(cmd.Context(), "GET", "/limits/"+action, &usage); err != nil {
					return err
				}
				usages = append(usages, usage)
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), usages)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tUSED\tLIMIT\tREMAINING\tWINDOW\tWARN")
			for _, usage := range usages {
				warn := ""
				if usage.ApproachingLimit {
					warn = "approaching limit"
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%ds\t%s\n",
					usage.Action, usage.Used, usage.Limit, usage.Remaining, usage.WindowSeconds, warn)
			}
			return w.Flush()
		},
	}
}

func newClearCommand(opts *options) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued action",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to clear the queue without --yes")
			}
			if err := opts.client().do(cmd.Context(), "DELETE", "/actions", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the queue should be cleared")
	return cmd
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
