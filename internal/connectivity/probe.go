package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var errProbePanicked = errors.New("probe panicked")

// HTTPProbe issues a HEAD request and treats any status below 500 as reachable.
func HTTPProbe(url string) Prober {
	return ProbeFunc(func(ctx context.Context) error {
		if url == "" {
			return errors.New("probe url must not be empty")
		}

		agent := fiber.Head(url)
		if deadline, ok := ctx.Deadline(); ok {
			agent.Timeout(time.Until(deadline))
		}

		status, _, errs := agent.Bytes()
		if len(errs) > 0 {
			return fmt.Errorf("probe %s: %w", url, errors.Join(errs...))
		}
		if status >= fiber.StatusInternalServerError {
			return fmt.Errorf("probe %s: unexpected status %d", url, status)
		}
		return nil
	})
}

// DatabaseProbe pings the backend database behind a GORM handle.
func DatabaseProbe(db *gorm.DB) Prober {
	return ProbeFunc(func(ctx context.Context) error {
		if db == nil {
			return errors.New("database handle is nil")
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("resolve sql db: %w", err)
		}
		return sqlDB.PingContext(ctx)
	})
}

// RedisProbe pings a Redis server.
func RedisProbe(client *redis.Client) Prober {
	return ProbeFunc(func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	})
}
