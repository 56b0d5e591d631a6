package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/myriadstar/trainer/internal/app/dispatcher"
	"github.com/myriadstar/trainer/internal/config"
	"github.com/myriadstar/trainer/internal/pkg/kafka"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	"github.com/myriadstar/trainer/internal/pkg/objectstore"
	"github.com/myriadstar/trainer/internal/pkg/redis"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
	"github.com/myriadstar/trainer/internal/pkg/trainer"
	dispatcherrepo "github.com/myriadstar/trainer/internal/repository/dispatcher"
	dispatchersvc "github.com/myriadstar/trainer/internal/service/dispatcher"
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
	name = "training-worker"
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo // Wiring of the worker dependencies.
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

	// Load the training worker configuration
	cfg, err := config.InitTrainingWorkerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

	consumerName := cfg.TrainingWorkerConfig.ConsumerName
	if consumerName == "" {
		consumerName, err = os.Hostname()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return ExitError
		}
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

	// Initialize the job stream and its consumer group
	stream := rdb.Stream(&redis.StreamConfig{
		Key:              cfg.Stream.Key,
		DeliveryDeadline: cfg.Stream.DeliveryDeadline,
		PollInterval:     cfg.Stream.PollInterval,
	})
	if err := stream.EnsureGroup(ctx, cfg.Stream.ConsumerGroup); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitError
	}

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

	services := &dispatcherrepo.Services{
		Stream:  stream,
		Store:   store,
		Trainer: trainer.NewPlaceholder(0),
	}

	// Initialize the kafka client for artifact events
	if cfg.TrainingWorkerConfig.PublishEnabled {
		kfk, kfkErr := kafka.New(ctx,
			kafka.WithBrokers(cfg.Kafka.Brokers...),
			kafka.WithClientID(name),
			kafka.WithProduceTopic(kafka.TopicTrainingArtifacts),
		)
		if kfkErr != nil {
			fmt.Fprintln(os.Stderr, kfkErr)
			return ExitError
		}
		defer kfk.Close()

		services.Publisher = dispatcherrepo.NewKafkaPublisher(kfk, kafka.TopicTrainingArtifacts)
	}

	// Initialize the training worker components
	repo := dispatcherrepo.New(&dispatcherrepo.Config{
		ConsumerGroup: cfg.Stream.ConsumerGroup,
		ConsumerName:  consumerName,
		Bucket:        cfg.ObjectStore.Bucket,
		Workers:       cfg.TrainingWorkerConfig.Workers,
		BatchSize:     cfg.TrainingWorkerConfig.BatchSize,
		PollInterval:  cfg.Stream.PollInterval,
		JobTimeout:    cfg.TrainingWorkerConfig.JobTimeout,
		ErrorsBuffer:  cfg.TrainingWorkerConfig.ErrorsBuffer,
	}, services)
	svc := dispatchersvc.New(repo)
	app := dispatcher.New(ctx, svc)

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

	// Run the training worker job
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
