package databasemigration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), want: true},
		{name: "starting up", err: errors.New("FATAL: the database system is starting up"), want: true},
		{name: "deadline", err: fmt.Errorf("ping: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "authentication", err: errors.New("password authentication failed for user"), want: false},
		{name: "tls timeout", err: errors.New("tls: handshake timeout"), want: false},
		{name: "dirty", err: errors.New("Dirty database version 1. Fix and force version."), want: false},
		{name: "unknown", err: errors.New("relation does not exist"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestMigratePostgres(t *testing.T) {
	newRepo := func(results ...error) (*Repository, *int) {
		calls := 0
		r := New(&Config{PostgresDSN: "postgresql://localhost:5432/trainer"})
		r.retry = RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
		r.migrate = func(context.Context) error {
			err := results[min(calls, len(results)-1)]
			calls++
			return err
		}
		return r, &calls
	}

	t.Run("success", func(t *testing.T) {
		r, calls := newRepo(nil)
		require.NoError(t, r.MigratePostgres(t.Context()))
		assert.Equal(t, 1, *calls)
	})

	t.Run("success after transient failures", func(t *testing.T) {
		r, calls := newRepo(errors.New("connection refused"), errors.New("i/o timeout"), nil)
		require.NoError(t, r.MigratePostgres(t.Context()))
		assert.Equal(t, 3, *calls)
	})

	t.Run("error: permanent failure is not retried", func(t *testing.T) {
		permanent := errors.New("syntax error at or near \"TABLE\"")
		r, calls := newRepo(permanent)
		err := r.MigratePostgres(t.Context())
		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, *calls)
	})

	t.Run("error: retries exhausted", func(t *testing.T) {
		r, calls := newRepo(errors.New("connection refused"))
		err := r.MigratePostgres(t.Context())
		require.Error(t, err)
		assert.Equal(t, 4, *calls)
	})
}
