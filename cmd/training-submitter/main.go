package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/go-playground/validator/v10"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/myriadstar/trainer/internal/app/submitter"
	"github.com/myriadstar/trainer/internal/config"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	"github.com/myriadstar/trainer/internal/pkg/objectstore"
	"github.com/myriadstar/trainer/internal/pkg/redis"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
	producerrepo "github.com/myriadstar/trainer/internal/repository/producer"
	trainingsvc "github.com/myriadstar/trainer/internal/service/training"
)

const (
	// ExitOk and ExitError are the exit codes.
	ExitOk = iota
	// ExitError is the exit code for errors.
	ExitError
)

var (
	// version is the service version.
	version = "dev"

	// name is the name of the service.
	name = "training-submitter"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize the service information
	initSvcInfo()

	// Initialize the service with, all necessary components
	ctx, cancel := svcpkg.Init()
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Load the training submitter configuration
	cfg, err := config.InitTrainingSubmitterConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	// Initialize the redis store
	rdb, err := redis.New(ctx, &redis.Config{
		Host:           cfg.Redis.Host,
		Port:           cfg.Redis.Port,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		PoolSize:       cfg.Redis.PoolSize,
		MinIdleConns:   cfg.Redis.MinIdleConns,
		ReadTimeout:    cfg.Redis.ReadTimeout,
		WriteTimeout:   cfg.Redis.WriteTimeout,
		MaxMemory:      cfg.Redis.MaxMemory,
		EvictionPolicy: cfg.Redis.EvictionPolicy,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}
	defer rdb.Close()

	// Initialize the job stream
	stream := rdb.Stream(&redis.StreamConfig{
		Key:              cfg.Stream.Key,
		DeliveryDeadline: cfg.Stream.DeliveryDeadline,
		PollInterval:     cfg.Stream.PollInterval,
	})

	// Initialize the artifact store
	store, err := objectstore.New(ctx, &objectstore.Config{
		Endpoint:                cfg.ObjectStore.Endpoint,
		Region:                  cfg.ObjectStore.Region,
		AccessKey:               cfg.ObjectStore.AccessKey,
		SecretKey:               cfg.ObjectStore.SecretKey,
		UsePathStyle:            cfg.ObjectStore.UsePathStyle,
		URIScheme:               cfg.ObjectStore.URIScheme,
		BreakerErrorThreshold:   cfg.ObjectStore.BreakerErrorThreshold,
		BreakerSuccessThreshold: cfg.ObjectStore.BreakerSuccessThreshold,
		BreakerTimeout:          cfg.ObjectStore.BreakerTimeout,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	// Initialize the training submitter components
	repo := producerrepo.New(stream)
	svc := trainingsvc.New(validator.New(), &trainingsvc.Config{
		Bucket:       cfg.ObjectStore.Bucket,
		PollInterval: cfg.Stream.PollInterval,
	}, repo, store)
	app := submitter.New(ctx, &submitter.Config{
		JobID:        cfg.TrainingSubmitterConfig.JobID,
		TargetID:     cfg.TrainingSubmitterConfig.TargetID,
		Method:       cfg.TrainingSubmitterConfig.Method,
		AwaitTimeout: cfg.TrainingSubmitterConfig.AwaitTimeout,
	}, svc, os.Stdout)

	// Log the job information
	loggerpkg.FromContext(ctx).Info(
		"starting job",
		zap.Any("ctx", ctx),
		zap.String("name", svcpkg.Info().GetName()),
		zap.String("version", svcpkg.Info().GetVersion()),
		zap.String("environment", cfg.Environment.Env),
		zap.String("stream", stream.Key()),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
		zap.Int64("gomemlimit", debug.SetMemoryLimit(-1)),
	)

	// Run the training submitter job
	if err := app.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	return ExitOk
}

// initSvcInfo initializes the job information.
func initSvcInfo() {
	svcpkg.SetVersion(version)
	svcpkg.SetName(name)
}
