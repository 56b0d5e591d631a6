package databasemigration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	postgrespkg "github.com/myriadstar/trainer/internal/pkg/postgres"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

const (
	// Database operation retry configuration.
	defaultMaxRetries   = 5
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 16 * time.Second
)

var (
	// Network-related errors that are typically retryable.
	retryablePatterns = []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no route to host",
		"connection timed out",
		"i/o timeout",
		"dial tcp",
		"broken pipe",
		"connection lost",
		"server closed",
		"connection aborted",
		"the database system is starting up",
	}

	// Non-retryable errors (authentication, certificate validation, syntax errors).
	nonRetryablePatterns = []string{
		"certificate",
		"authentication",
		"permission denied",
		"access denied",
		"invalid credentials",
		"tls",
		"ssl",
		"syntax error",
		"dirty database",
	}
)

// Config holds the database migration configuration.
type Config struct {
	PostgresDSN string
}

// RetryConfig holds configuration for database operation retries.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Repository provides database migration repository.
type Repository struct {
	tp      trace.Tracer
	cfg     *Config
	retry   RetryConfig
	migrate func(ctx context.Context) error
}

// New creates a new database migration repository.
func New(cfg *Config) *Repository {
	r := &Repository{
		tp:    otel.Tracer(svcpkg.Info().GetName()),
		cfg:   cfg,
		retry: defaultRetryConfig(),
	}
	r.migrate = r.runPostgresMigration

	return r
}

// defaultRetryConfig returns the default retry configuration for database operations.
func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// MigratePostgres applies the embedded migrations to the artifact index database.
func (r *Repository) MigratePostgres(ctx context.Context) (err error) {
	ctx, span := r.tp.Start(ctx, "Repository.MigratePostgres")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	logger := loggerpkg.FromContext(ctx)

	attempt := 0
	ret := retrier.New(
		retrier.LimitedExponentialBackoff(r.retry.MaxRetries, r.retry.InitialDelay, r.retry.MaxDelay),
		classifier{},
	)
	err = ret.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		logger.Info("attempting database operation",
			zap.String("database_type", "PostgreSQL"),
			zap.Int("attempt", attempt),
		)

		migrateErr := r.migrate(ctx)
		if migrateErr != nil {
			logger.Warn("database operation failed",
				zap.String("database_type", "PostgreSQL"),
				zap.Int("attempt", attempt),
				zap.Bool("retryable", isRetryableError(migrateErr)),
				zap.Error(migrateErr),
			)
		}
		return migrateErr
	})
	if err != nil {
		return fmt.Errorf("postgres migration failed after %d attempts: %w", attempt, err)
	}

	logger.Info("database operation succeeded",
		zap.String("database_type", "PostgreSQL"),
		zap.Int("attempt", attempt),
	)
	return nil
}

// runPostgresMigration executes PostgreSQL migrations using the migrate library.
func (r *Repository) runPostgresMigration(ctx context.Context) error {
	// IOFS source instance for embedded migrations
	sourceInstance, err := iofs.New(postgrespkg.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create IOFS source instance: %w", err)
	}

	// Migrate instance for postgres
	m, err := migrate.NewWithSourceInstance("iofs", sourceInstance, r.cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Ensure we close the migrate instance
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logger := loggerpkg.FromContext(ctx)
			logger.Error("failed to close PostgreSQL migrate instance",
				zap.Error(sourceErr),
				zap.Error(dbErr))
		}
	}()

	// Execute migration
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run postgres migration: %w", err)
	}

	return nil
}

// classifier retries only errors that look like transient network failures.
type classifier struct{}

// Classify implements retrier.Classifier.
func (classifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case isRetryableError(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

// isRetryableError reports whether err is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
