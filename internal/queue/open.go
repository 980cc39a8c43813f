package queue

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Supported store drivers.
const (
	DriverPebble = "pebble"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// OpenOptions selects and configures a store implementation.
type OpenOptions struct {
	Driver      string
	PebblePath  string
	DB          *gorm.DB
	Redis       *redis.Client
	RedisPrefix string
}

// Open constructs the store named by opts.Driver.
func Open(opts OpenOptions) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverPebble:
		return OpenPebbleStore(opts.PebblePath)
	case DriverSQLite:
		if opts.DB == nil {
			return nil, fmt.Errorf("queue driver %q requires a database connection", opts.Driver)
		}
		return NewGormStore(opts.DB, WithOwnedConnection())
	case DriverRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("queue driver %q requires a redis client", opts.Driver)
		}
		return NewRedisStore(opts.Redis, opts.RedisPrefix)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", opts.Driver)
	}
}
