package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// TrainingWorker holds the training worker configuration.
type TrainingWorker struct {
	Environment

	Redis
	Stream
	ObjectStore
	Kafka
	TrainingWorkerConfig
}

// TrainingWorkerConfig holds the configuration for the worker pool.
// A zero JobTimeout is derived from the stream delivery deadline.
type TrainingWorkerConfig struct {
	ConsumerName   string        `envconfig:"TRAINING_WORKER_CONSUMER_NAME" default:""`
	Workers        int           `envconfig:"TRAINING_WORKER_WORKERS" default:"4"`
	BatchSize      int64         `envconfig:"TRAINING_WORKER_BATCH_SIZE" default:"1"`
	JobTimeout     time.Duration `envconfig:"TRAINING_WORKER_JOB_TIMEOUT" default:"0s"`
	ErrorsBuffer   int           `envconfig:"TRAINING_WORKER_ERRORS_BUFFER" default:"64"`
	PublishEnabled bool          `envconfig:"TRAINING_WORKER_PUBLISH_ENABLED" default:"true"`
}

// InitTrainingWorkerConfig initializes the training worker configuration.
func InitTrainingWorkerConfig() (*TrainingWorker, error) {
	var cfg TrainingWorker
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Stream.validate(); err != nil {
		return nil, err
	}

	// An attempt must end before its entry can be reclaimed by another worker.
	deadline := cfg.Stream.DeliveryDeadline
	switch {
	case cfg.TrainingWorkerConfig.JobTimeout == 0:
		cfg.TrainingWorkerConfig.JobTimeout = deadline - deadline/10
	case cfg.TrainingWorkerConfig.JobTimeout < 0 || cfg.TrainingWorkerConfig.JobTimeout >= deadline:
		return nil, fmt.Errorf("%w: TRAINING_WORKER_JOB_TIMEOUT %s must be positive and shorter than STREAM_DELIVERY_DEADLINE %s",
			ErrInvalidConfig, cfg.TrainingWorkerConfig.JobTimeout, deadline)
	}

	return &cfg, nil
}
