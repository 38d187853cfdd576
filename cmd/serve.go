package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaign-cli/internal/api"
	"github.com/sells-group/campaign-cli/internal/monitoring"
	"github.com/sells-group/campaign-cli/internal/trigger"
	"github.com/sells-group/campaign-cli/internal/workflow"
)

var servePort int

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher, closeDispatcher, err := initDispatcher(ctx, env)
		if err != nil {
			return err
		}
		defer closeDispatcher()

		router := trigger.NewRouter(env.Store, dispatcher, env.Flows, env.Broker)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env, router),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if cfg.Scheduler.Enabled {
			var lock trigger.Locker
			if env.Redis != nil {
				lock = trigger.NewRedisLocker(env.Redis)
			}
			sched, err := trigger.NewScheduler(router, cfg.Scheduler, lock)
			if err != nil {
				return err
			}
			g.Go(func() error { return sched.Run(gctx) })
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
				func(a monitoring.Alert) { env.Metrics.ObserveAlert(string(a.Type)) },
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("engine", cfg.Workflow.Engine))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

// buildHandler wires the API server onto the environment.
func buildHandler(env *appEnv, router *trigger.Router) http.Handler {
	deps := api.Deps{
		Router:         router,
		Store:          env.Store,
		Broker:         env.Broker,
		Metrics:        env.Metrics.Handler(),
		Middleware:     env.Metrics.Middleware,
		AnthropicKey:   cfg.Anthropic.Key,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if env.Adapters != nil {
		deps.Prober = env.Adapters
	}
	return api.NewServer(deps).Handler()
}

// initDispatcher selects the execution engine. The returned func releases
// it: the local engine drains in-flight runs, Temporal closes its client.
func initDispatcher(ctx context.Context, env *appEnv) (trigger.Dispatcher, func(), error) {
	switch cfg.Workflow.Engine {
	case "temporal":
		c, err := workflow.Dial(cfg.Workflow)
		if err != nil {
			return nil, nil, err
		}
		return workflow.NewTemporalDispatcher(c, *cfg), c.Close, nil
	default:
		d := workflow.NewLocalDispatcher(env.Pipeline, env.Flows, env.Store, cfg.Workflow)
		if _, err := d.Resume(ctx); err != nil {
			zap.L().Error("resume active runs", zap.Error(err))
		}
		return d, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := d.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("local dispatcher shutdown", zap.Error(err))
			}
		}, nil
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
