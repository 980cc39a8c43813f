package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the sync agent.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	JWTSecret   string
	DatabaseURL string

	QueueDriver     string
	QueuePath       string
	QueueSQLitePath string
	RedisURL        string
	NATSURL         string
	NATSSubject     string

	SyncMaxRetries int
	SyncInterval   time.Duration

	HeartbeatInterval time.Duration
	HeartbeatURL      string
	HeartbeatTimeout  time.Duration

	DispatchTimeout     time.Duration
	WorkpoolConcurrency int

	RateLimitDefaultMax    int
	RateLimitDefaultWindow time.Duration
	RateLimitPolicies      map[string]RateLimitPolicy

	AIProvider   string
	AIModel      string
	OpenAIAPIKey string
}

// RateLimitPolicy overrides the admission budget of one action.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Sync Agent")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8090")
	v.SetDefault("queue.driver", "pebble")
	v.SetDefault("queue.path", "./data/queue")
	v.SetDefault("queue.sqlite_path", "./data/queue.db")
	v.SetDefault("nats.subject", "gema.sync")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("heartbeat.interval", "10s")
	v.SetDefault("heartbeat.timeout", "3s")
	v.SetDefault("dispatch.timeout", "10s")
	v.SetDefault("workpool.concurrency", 2)
	v.SetDefault("ratelimit.default_max", 100)
	v.SetDefault("ratelimit.default_window", "1m")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		JWTSecret:           v.GetString("jwt.secret"),
		DatabaseURL:         v.GetString("database.url"),
		QueueDriver:         strings.ToLower(strings.TrimSpace(v.GetString("queue.driver"))),
		QueuePath:           v.GetString("queue.path"),
		QueueSQLitePath:     v.GetString("queue.sqlite_path"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		NATSSubject:         v.GetString("nats.subject"),
		SyncMaxRetries:      v.GetInt("sync.max_retries"),
		HeartbeatURL:        v.GetString("heartbeat.url"),
		WorkpoolConcurrency: v.GetInt("workpool.concurrency"),
		RateLimitDefaultMax: v.GetInt("ratelimit.default_max"),
		AIProvider:          strings.ToLower(v.GetString("ai.provider")),
		AIModel:             v.GetString("ai.model"),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
	}
	durations["sync.interval"] = &cfg.SyncInterval
	durations["heartbeat.interval"] = &cfg.HeartbeatInterval
	durations["heartbeat.timeout"] = &cfg.HeartbeatTimeout
	durations["dispatch.timeout"] = &cfg.DispatchTimeout
	durations["ratelimit.default_window"] = &cfg.RateLimitDefaultWindow

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.QueueDriver {
	case "pebble", "sqlite", "redis", "memory":
	default:
		return Config{}, fmt.Errorf("unsupported queue driver %q", cfg.QueueDriver)
	}
	if cfg.QueueDriver == "redis" && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("redis url must be provided for the redis queue driver")
	}

	policies, err := parseRateLimitPolicies(v.GetString("ratelimit.policies"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ratelimit.policies: %w", err)
	}
	cfg.RateLimitPolicies = policies

	if cfg.SyncMaxRetries <= 0 {
		cfg.SyncMaxRetries = 3
	}
	if cfg.WorkpoolConcurrency <= 0 {
		cfg.WorkpoolConcurrency = 2
	}
	if cfg.RateLimitDefaultMax <= 0 {
		cfg.RateLimitDefaultMax = 100
	}

	return cfg, nil
}

// parseRateLimitPolicies reads "action=max/window" pairs separated by commas,
// e.g. "ai_generation=5/1m,sync_now=2/30s".
func parseRateLimitPolicies(raw string) (map[string]RateLimitPolicy, error) {
	policies := make(map[string]RateLimitPolicy)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		action, budget, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected action=max/window", entry)
		}
		maxRaw, windowRaw, ok := strings.Cut(budget, "/")
		if !ok {
			return nil, fmt.Errorf("%q: expected action=max/window", entry)
		}

		action = strings.TrimSpace(action)
		maxRequests, err := strconv.Atoi(strings.TrimSpace(maxRaw))
		if err != nil || maxRequests <= 0 || action == "" {
			return nil, fmt.Errorf("%q: max must be a positive integer", entry)
		}
		window, err := time.ParseDuration(strings.TrimSpace(windowRaw))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("%q: window must be a positive duration", entry)
		}
		policies[action] = RateLimitPolicy{MaxRequests: maxRequests, Window: window}
	}
	return policies, nil
}
