package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/cost"
	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/stage"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/internal/telemetry"
	anthropicpkg "github.com/sells-group/campaign-cli/pkg/anthropic"
)

// appEnv holds everything the serve, worker and campaign commands share.
type appEnv struct {
	Store    store.Store
	Redis    *redis.Client // nil without redis.addr
	Broker   progress.Broker
	Metrics  *telemetry.Metrics
	Adapters *capability.Adapters
	Pipeline *orchestrator.Pipeline
	Flows    *flow.Engine
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Broker != nil {
		_ = e.Broker.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens the store and builds the
// pipeline. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Metrics: telemetry.New()}

	if cfg.Redis.Addr != "" {
		rdb, err := initRedis(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Redis = rdb
		env.Broker = progress.NewRedisBroker(rdb)
	} else {
		env.Broker = progress.NewMemoryBroker()
	}

	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		zap.L().Warn("provider circuit changed",
			zap.String("provider", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	env.Adapters = capability.New(cfg.Providers, resilience.NewBreakers(breakerCfg),
		capability.WithObserver(env.Metrics.ObserveProviderCall))

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	stages := stage.New(*cfg, st, env.Adapters, agent.NewExecutor(llm), env.Broker)
	env.Pipeline = orchestrator.New(*cfg, st, stages, cost.NewCalculator(cfg.Pricing), env.Broker,
		orchestrator.WithObserver(env.Metrics.ObserveRun))
	env.Flows = flow.NewEngine(st)
	return env, nil
}

func initRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "redis ping %s", cfg.Redis.Addr)
	}
	return rdb, nil
}
