package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/trigger"
	"github.com/sells-group/campaign-cli/internal/workflow"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Control and inspect campaigns",
}

// -- campaign start --

var campaignStartCmd = &cobra.Command{
	Use:   "start <campaign-id>",
	Short: "Start a campaign run",
	Long:  "Creates a run and dispatches the pipeline. With the local engine the command waits for the run to finish.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Workflow.Engine != "temporal" && cfg.Anthropic.Key == "" {
			return eris.New("anthropic.key is required to run the pipeline locally")
		}
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		var (
			dispatcher trigger.Dispatcher
			local      *workflow.LocalDispatcher
		)
		if cfg.Workflow.Engine == "temporal" {
			c, err := workflow.Dial(cfg.Workflow)
			if err != nil {
				return err
			}
			defer c.Close()
			dispatcher = workflow.NewTemporalDispatcher(c, *cfg)
		} else {
			local = workflow.NewLocalDispatcher(env.Pipeline, env.Flows, env.Store, cfg.Workflow)
			dispatcher = local
		}

		agents, _ := cmd.Flags().GetStringSlice("agent")
		router := trigger.NewRouter(env.Store, dispatcher, env.Flows, env.Broker)
		run, err := router.Start(ctx, args[0], trigger.StartRequest{AgentIDs: agents})
		if err != nil {
			return eris.Wrap(err, "campaign start")
		}
		fmt.Fprintf(os.Stderr, "Started run %s\n", run.ID)

		if local == nil {
			return nil
		}
		done := make(chan struct{})
		go func() {
			local.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Interrupted runs stay running and are resumed by the next serve.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = local.Shutdown(shutdownCtx)
			return ctx.Err()
		}

		final, err := env.Store.GetRun(cmd.Context(), run.ID)
		if err != nil {
			return eris.Wrap(err, "campaign start: load run")
		}
		return printJSON(os.Stdout, final)
	},
}

// -- campaign stop --

var campaignStopCmd = &cobra.Command{
	Use:   "stop <campaign-id>",
	Short: "Cancel active runs and pause the campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		router, closeFn, err := initCLIRouter(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		if err := router.Stop(ctx, args[0]); err != nil {
			return eris.Wrap(err, "campaign stop")
		}
		fmt.Fprintf(os.Stderr, "Campaign %s stopped\n", args[0])
		return nil
	},
}

// -- campaign status --

var campaignStatusCmd = &cobra.Command{
	Use:   "status <campaign-id>",
	Short: "Show the latest run of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, closeFn, err := initCLIRouter(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := router.Status(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "campaign status")
		}
		return printJSON(os.Stdout, st)
	},
}

// -- campaign runs --

var campaignRunsCmd = &cobra.Command{
	Use:   "runs <campaign-id>",
	Short: "List a campaign's runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, closeFn, err := initCLIRouter(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		runs, err := router.Runs(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "campaign runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- campaign test --

var campaignTestCmd = &cobra.Command{
	Use:   "test [campaign-id]",
	Short: "Probe every configured provider",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		adapters := capability.New(cfg.Providers, nil)
		results := adapters.Probe(cmd.Context())
		results = append(results, anthropicProbe(cfg.Anthropic.Key))
		formatProbeResults(os.Stdout, results)
		return nil
	},
}

// initCLIRouter builds a router for commands that never dispatch.
func initCLIRouter(ctx context.Context) (*trigger.Router, func(), error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return trigger.NewRouter(st, nil, nil, nil), func() { _ = st.Close() }, nil
}

func anthropicProbe(key string) capability.ProbeResult {
	if key == "" {
		return capability.ProbeResult{Provider: "anthropic", Message: "Key not configured"}
	}
	return capability.ProbeResult{Provider: "anthropic", OK: true, Message: "Key configured"}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tLEADS\tTOKENS\tCOST\tCREATED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t$%.4f\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StepsCompleted, r.StepsTotal,
			r.LeadsFound,
			r.LLMTokensUsed,
			r.CostUSD,
			r.CreatedAt.Format(time.DateTime),
			runDuration(r),
		)
	}
	_ = w.Flush()
}

func formatProbeResults(out io.Writer, results []capability.ProbeResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tOK\tMESSAGE")
	for _, r := range results {
		ok := "no"
		if r.OK {
			ok = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Provider, ok, r.Message)
	}
	_ = w.Flush()
}

func runDuration(r model.Run) string {
	if r.StartedAt == nil {
		return "-"
	}
	end := r.UpdatedAt
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt).Round(time.Second).String()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	campaignStartCmd.Flags().StringSlice("agent", nil, "agent IDs for this run (default: the campaign's agents)")

	campaignCmd.AddCommand(campaignStartCmd)
	campaignCmd.AddCommand(campaignStopCmd)
	campaignCmd.AddCommand(campaignStatusCmd)
	campaignCmd.AddCommand(campaignRunsCmd)
	campaignCmd.AddCommand(campaignTestCmd)
	rootCmd.AddCommand(campaignCmd)
}
