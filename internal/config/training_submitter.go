package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// TrainingSubmitter holds the training submitter configuration.
type TrainingSubmitter struct {
	Environment

	Redis
	Stream
	ObjectStore
	TrainingSubmitterConfig
}

// TrainingSubmitterConfig describes the job to submit.
type TrainingSubmitterConfig struct {
	TargetID     string        `envconfig:"SUBMIT_TARGET_ID" required:"true"`
	JobID        string        `envconfig:"SUBMIT_JOB_ID" default:""`
	Method       string        `envconfig:"SUBMIT_METHOD" default:""`
	AwaitTimeout time.Duration `envconfig:"SUBMIT_AWAIT_TIMEOUT" default:"0s"`
}

// InitTrainingSubmitterConfig initializes the training submitter configuration.
func InitTrainingSubmitterConfig() (*TrainingSubmitter, error) {
	var cfg TrainingSubmitter
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
