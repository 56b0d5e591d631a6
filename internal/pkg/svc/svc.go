package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"

	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	otelpkg "github.com/myriadstar/trainer/internal/pkg/otel"
)

const shutdownTimeout = 5 * time.Second

// Svc contains the service information.
type Svc struct {
	// Version is the service version.
	Version string

	// Name is the name of the service.
	Name string
}

// Svc represents the service.
var svc Svc

// GetVersion returns the service version.
func (s Svc) GetVersion() string {
	return s.Version
}

// GetName returns the service name.
func (s Svc) GetName() string {
	return s.Name
}

// SetVersion sets the service version.
func SetVersion(version string) {
	if svc.Version != "" {
		return
	}
	svc.Version = version
}

// SetName sets the service name.
func SetName(name string) {
	if svc.Name != "" {
		return
	}
	svc.Name = name
}

// Info returns the service information.
func Info() Svc {
	return svc
}

// Init wires telemetry and the logger for the current service.
// The returned cancel function cancels the context and flushes the telemetry providers.
// When the telemetry pipeline cannot be created the service keeps running with stdout logging only.
func Init() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown, lp, err := initTelemetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
	}

	ctx, logger := loggerpkg.Init(ctx, svc.Name, lp)

	return ctx, func() {
		cancel()

		//nolint:contextcheck // The parent context is already canceled at this point
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if shutdown != nil {
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shutdown telemetry providers", zap.Error(err))
			}
		}

		//nolint:errcheck // Nothing to do if syncing stdout fails
		logger.Sync()
	}
}

func initTelemetry(ctx context.Context) (func(context.Context) error, *sdklog.LoggerProvider, error) {
	res, err := otelpkg.InitResource(ctx, svc.Name, svc.Version)
	if err != nil {
		return nil, nil, err
	}

	tp, err := otelpkg.InitTracerProvider(ctx, res)
	if err != nil {
		return nil, nil, err
	}

	mp, err := otelpkg.InitMeterProvider(ctx, res)
	if err != nil {
		return tp.Shutdown, nil, err
	}

	lp, err := otelpkg.InitLogProvider(ctx, res)
	if err != nil {
		return func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		}, nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx), lp.Shutdown(ctx))
	}, lp, nil
}
