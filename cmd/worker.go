package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run Temporal workers for campaign pipelines and flow fan-out",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := workflow.Dial(cfg.Workflow)
		if err != nil {
			return err
		}
		defer c.Close()

		workers := workflow.NewWorkers(c, cfg.Workflow, workflow.NewActivities(env.Pipeline, env.Flows))
		if err := workers.Start(); err != nil {
			return err
		}
		zap.L().Info("workers started",
			zap.String("pipeline_queue", cfg.Workflow.PipelineTaskQueue),
			zap.String("fanout_queue", cfg.Workflow.FanOutTaskQueue),
		)

		<-ctx.Done()
		zap.L().Info("stopping workers")
		workers.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
