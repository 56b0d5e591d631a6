//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package training

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

const defaultPollInterval = time.Second

// Producer appends jobs to the job stream.
type Producer interface {
	Submit(ctx context.Context, job *trainingmodel.TrainJob) (string, error)
}

// Store is the read side of the artifact store.
type Store interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	URIFor(bucket, key string) string
}

// Config represents the service constants configuration.
type Config struct {
	Bucket       string
	PollInterval time.Duration
}

// Service provides training related operations.
type Service struct {
	validator *validator.Validate
	tp        trace.Tracer
	cfg       *Config
	producer  Producer
	store     Store
}

// New creates a new training service.
func New(validator *validator.Validate, cfg *Config, producer Producer, store Store) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Service{
		validator: validator,
		tp:        otel.Tracer(svcpkg.Info().GetName()),
		cfg:       cfg,
		producer:  producer,
		store:     store,
	}
}

// SubmitRequest holds the request parameters for submitting a training job.
type SubmitRequest struct {
	JobID    string `validate:"omitempty,max=128"`
	TargetID string `validate:"required,max=128"`
	Method   string `validate:"omitempty,max=64"`
}

// Submit builds a training job and appends it to the job stream.
// A fresh job id is generated when the request carries none; reusing an id
// reuses the artifact location.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (job *trainingmodel.TrainJob, err error) {
	ctx, span := s.tp.Start(ctx, "Service.Submit")
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	job, err = s.submit(ctx, req)
	return job, err
}

func (s *Service) submit(ctx context.Context, req *SubmitRequest) (*trainingmodel.TrainJob, error) {
	// Validate the request
	if err := s.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", trainingmodel.ErrInvalidJob, err)
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	job := trainingmodel.NewTrainJob(jobID, req.TargetID, req.Method, time.Now())
	if _, err := s.producer.Submit(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// SubmitAndAwait submits a job and waits until its artifact exists or timeout elapses.
// The artifact location is checked at least once, so a zero timeout still returns an
// artifact that is already stored. Timing out does not cancel the job.
func (s *Service) SubmitAndAwait(ctx context.Context, req *SubmitRequest, timeout time.Duration) (artifact *trainingmodel.Artifact, err error) {
	ctx, span := s.tp.Start(ctx, "Service.SubmitAndAwait", trace.WithAttributes(
		attribute.String("target_id", req.TargetID),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	job, err := s.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("job_id", job.JobID))

	return s.await(ctx, job, timeout)
}

// await polls the artifact store for the artifact of job.
func (s *Service) await(ctx context.Context, job *trainingmodel.TrainJob, timeout time.Duration) (*trainingmodel.Artifact, error) {
	key := job.ArtifactKey()
	deadline := time.Now().Add(timeout)

	for {
		exists, err := s.store.Exists(ctx, s.cfg.Bucket, key)
		if err != nil {
			return nil, err
		}

		if exists {
			content, err := s.store.Get(ctx, s.cfg.Bucket, key)
			if err != nil {
				return nil, err
			}

			return &trainingmodel.Artifact{
				URI:     s.store.URIFor(s.cfg.Bucket, key),
				Bucket:  s.cfg.Bucket,
				Key:     key,
				Content: content,
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: job %s after %s", trainingmodel.ErrTimeout, job.JobID, timeout)
		}

		wait := min(s.cfg.PollInterval, remaining)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
