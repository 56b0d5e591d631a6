package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

const (
	// MaxHealthCheckRetries is the maximum number of retries for the health check.
	MaxHealthCheckRetries = 3

	healthCheckBackoff = 100 * time.Millisecond
)

// Config is the configuration for the Redis store.
type Config struct {
	Host           string
	Port           int
	Password       string
	DB             int
	PoolSize       int
	MinIdleConns   int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMemory      string
	EvictionPolicy string
}

// Store is a Redis store.
type Store struct {
	client *redis.Client
}

// healthCheck is used to check the health of the Redis connection.
func healthCheck(ctx context.Context, client *redis.Client) error {
	r := retrier.New(retrier.ExponentialBackoff(MaxHealthCheckRetries, healthCheckBackoff), nil)
	return r.RunCtx(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// New creates a new Redis store instance.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := redisotel.InstrumentMetrics(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis metrics: %w", err)
	}

	if err := healthCheck(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Memory settings are optional, managed deployments usually forbid CONFIG SET.
	if cfg.MaxMemory != "" {
		if err := client.ConfigSet(ctx, "maxmemory", cfg.MaxMemory).Err(); err != nil {
			return nil, fmt.Errorf("failed to set max memory: %w", err)
		}
	}

	// Evicting keys would silently drop stream entries, so anything but noeviction is rejected.
	if cfg.EvictionPolicy != "" {
		if cfg.EvictionPolicy != "noeviction" {
			return nil, fmt.Errorf("unsupported eviction policy %q: the job stream requires noeviction", cfg.EvictionPolicy)
		}

		if err := client.ConfigSet(ctx, "maxmemory-policy", cfg.EvictionPolicy).Err(); err != nil {
			return nil, fmt.Errorf("failed to set eviction policy: %w", err)
		}
	}

	return &Store{client: client}, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis store.
func (s *Store) Close() error {
	return s.client.Close()
}
