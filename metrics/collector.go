package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// redisMetricsHook counts every Redis command processed by the client
type redisMetricsHook struct{}

func (redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		IncrementRedisOperation(cmd.Name())
		return next(ctx, cmd)
	}
}

func (redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			IncrementRedisOperation(cmd.Name())
		}
		return next(ctx, cmds)
	}
}

// InstrumentRedis attaches the command counter hook to the client
func InstrumentRedis(rdb *redis.Client) {
	rdb.AddHook(redisMetricsHook{})
}

// StartCollector samples connection pool and user activity gauges in the
// background. Sampling failures are silent: gauges just keep their last
// value until the next tick.
func StartCollector(pool *pgxpool.Pool, rdb *redis.Client) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stat := pool.Stat()
			UpdateDatabaseMetrics(int(stat.AcquiredConns()), int(stat.IdleConns()))
			UpdateRedisConnections(int(rdb.PoolStats().TotalConns))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			var active int
			if err := pool.QueryRow(ctx,
				`SELECT COUNT(*) FROM users WHERE last_login > NOW() - INTERVAL '24 hours' AND deleted_at IS NULL`,
			).Scan(&active); err == nil {
				UpdateActiveUsers(active)
			}
			cancel()
		}
	}()
}
