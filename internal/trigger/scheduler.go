package trigger

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
)

const (
	defaultCron = "0 * * * *"
	lockTTL     = 2 * time.Minute
)

// Locker grants at most one process the right to fire a given tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// TryLock reports whether key was acquired.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "trigger: lock %s", key)
	}
	return ok, nil
}

// Scheduler emits a scheduled tick on a cron cadence. With a Locker, only
// one replica fires each tick.
type Scheduler struct {
	router *Router
	lock   Locker
	expr   *cronexpr.Expression
	every  time.Duration
	next   time.Time
}

// NewScheduler parses cfg.Cron and returns a Scheduler. lock may be nil.
func NewScheduler(router *Router, cfg config.SchedulerConfig, lock Locker) (*Scheduler, error) {
	spec := cfg.Cron
	if spec == "" {
		spec = defaultCron
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: parse scheduler cron %q", spec)
	}
	every := time.Duration(cfg.TickSeconds) * time.Second
	if every <= 0 {
		every = time.Minute
	}
	return &Scheduler{router: router, lock: lock, expr: expr, every: every}, nil
}

// Run checks for a due tick every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	zap.L().Info("trigger: scheduler started", zap.Duration("tick", s.every))
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := s.Tick(ctx, now); err != nil {
				zap.L().Error("trigger: scheduled tick", zap.Error(err))
			}
		}
	}
}

// Tick fires the scheduled fan-out if the cron boundary has passed. The
// first call only arms the schedule. It reports whether a tick was
// dispatched by this process.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (bool, error) {
	if s.next.IsZero() {
		s.next = s.expr.Next(now)
		return false, nil
	}
	if now.Before(s.next) {
		return false, nil
	}
	fire := s.next
	s.next = s.expr.Next(now)

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, "sched:lock:"+fire.UTC().Format(time.RFC3339), lockTTL)
		if err != nil {
			zap.L().Warn("trigger: scheduler lock unavailable, firing anyway", zap.Error(err))
		} else if !ok {
			zap.L().Debug("trigger: tick claimed elsewhere", zap.Time("at", fire))
			return false, nil
		}
	}

	if err := s.router.Scheduled(ctx, fire); err != nil {
		return false, err
	}
	return true, nil
}
