package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

const (
	defaultWorkers      = 1
	defaultBatchSize    = 1
	defaultPollInterval = 2 * time.Second
	defaultErrorsBuffer = 64
)

// Stream is the consumer side of the job stream.
type Stream interface {
	Read(ctx context.Context, group, consumer string, count int64) ([]*trainingmodel.JobRecord, error)
	Ack(ctx context.Context, group, position string) error
}

// Store is the artifact store the dispatcher writes to.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, content []byte) error
	URIFor(bucket, key string) string
}

// Trainer runs the job body and returns the artifact content.
type Trainer interface {
	Train(ctx context.Context, job *trainingmodel.TrainJob) ([]byte, error)
}

// Publisher announces completed artifacts.
type Publisher interface {
	Publish(ctx context.Context, event *trainingmodel.ArtifactEvent) error
}

// Config represents the repository constants configuration.
type Config struct {
	ConsumerGroup string
	ConsumerName  string
	Bucket        string
	Workers       int
	BatchSize     int64
	PollInterval  time.Duration
	JobTimeout    time.Duration
	ErrorsBuffer  int
}

// Services represents the dependencies used by the dispatcher.
type Services struct {
	Stream    Stream
	Store     Store
	Trainer   Trainer
	Publisher Publisher
}

type counters struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	poisoned  metric.Int64Counter
}

// Repository provides dispatcher repository.
type Repository struct {
	tp       trace.Tracer
	cfg      *Config
	svc      *Services
	counters *counters
	errs     chan *trainingmodel.DispatchError
	now      func() time.Time
}

// New creates a new dispatcher repository.
// A nil Publisher disables artifact events.
func New(cfg *Config, svc *Services) *Repository {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorsBuffer <= 0 {
		cfg.ErrorsBuffer = defaultErrorsBuffer
	}

	return &Repository{
		tp:       otel.Tracer(svcpkg.Info().GetName()),
		cfg:      cfg,
		svc:      svc,
		counters: newCounters(otel.Meter(svcpkg.Info().GetName())),
		errs:     make(chan *trainingmodel.DispatchError, cfg.ErrorsBuffer),
		now:      time.Now,
	}
}

func newCounters(meter metric.Meter) *counters {
	completed, err := meter.Int64Counter("dispatcher.jobs.completed",
		metric.WithDescription("Jobs whose artifact was stored and acknowledged."))
	if err != nil {
		otel.Handle(err)
	}
	failed, err := meter.Int64Counter("dispatcher.jobs.failed",
		metric.WithDescription("Job attempts left unacknowledged for redelivery."))
	if err != nil {
		otel.Handle(err)
	}
	poisoned, err := meter.Int64Counter("dispatcher.jobs.poisoned",
		metric.WithDescription("Stream entries acknowledged without executing because they could not be decoded."))
	if err != nil {
		otel.Handle(err)
	}

	return &counters{
		completed: completed,
		failed:    failed,
		poisoned:  poisoned,
	}
}

// Errors returns the channel failed attempts are reported on.
// Reports are dropped when nobody drains the channel.
func (r *Repository) Errors() <-chan *trainingmodel.DispatchError {
	return r.errs
}

// Run starts the workers and blocks until ctx is canceled.
func (r *Repository) Run(ctx context.Context) error {
	logger := loggerpkg.FromContext(ctx)
	logger.Info("starting dispatcher",
		zap.String("consumer_group", r.cfg.ConsumerGroup),
		zap.String("consumer_name", r.cfg.ConsumerName),
		zap.Int("workers", r.cfg.Workers),
		zap.Int64("batch_size", r.cfg.BatchSize),
	)

	eg, groupCtx := errgroup.WithContext(ctx)
	for n := range r.cfg.Workers {
		consumer := fmt.Sprintf("%s-%d", r.cfg.ConsumerName, n)
		eg.Go(func() error {
			return r.work(groupCtx, consumer)
		})
	}

	return eg.Wait()
}

// work is the loop of a single worker.
// It only returns once ctx is done.
func (r *Repository) work(ctx context.Context, consumer string) error {
	logger := loggerpkg.FromContext(ctx).With(zap.String("consumer", consumer))

	for {
		// Check context cancellation before reading
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Continue processing
		}

		records, err := r.svc.Stream.Read(ctx, r.cfg.ConsumerGroup, consumer, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			logger.Error("failed to read from job stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		for _, record := range records {
			r.process(ctx, record)
		}
	}
}

// process handles a single stream entry.
// Decode failures are acknowledged at once, execution failures are left pending
// so the entry is redelivered once the delivery deadline elapses.
func (r *Repository) process(ctx context.Context, record *trainingmodel.JobRecord) {
	logger := loggerpkg.FromContext(ctx).With(
		zap.String("position", record.Position),
		zap.Int64("deliveries", record.Deliveries),
	)

	job, err := trainingmodel.DecodeJob(record.Payload)
	if err != nil {
		logger.Warn("discarding malformed job record", zap.Error(err))
		r.counters.poisoned.Add(ctx, 1)

		if ackErr := r.svc.Stream.Ack(ctx, r.cfg.ConsumerGroup, record.Position); ackErr != nil {
			logger.Error("failed to acknowledge malformed job record", zap.Error(ackErr))
		}

		r.report(ctx, &trainingmodel.DispatchError{
			Position: record.Position,
			Stage:    trainingmodel.StageDecode,
			Err:      err,
		})
		return
	}

	logger = logger.With(
		zap.String("job_id", job.JobID),
		zap.String("target_id", job.TargetID),
	)

	artifact, err := r.Execute(ctx, job)
	if err != nil {
		r.counters.failed.Add(ctx, 1)

		dispatchErr := &trainingmodel.DispatchError{}
		if !errors.As(err, &dispatchErr) {
			dispatchErr = &trainingmodel.DispatchError{JobID: job.JobID, Stage: trainingmodel.StageTrain, Err: err}
		}
		dispatchErr.Position = record.Position

		logger.Warn("job attempt failed, leaving it pending for redelivery",
			zap.String("stage", dispatchErr.Stage.ToString()),
			zap.Error(err),
		)
		r.report(ctx, dispatchErr)
		return
	}

	if err := r.svc.Stream.Ack(ctx, r.cfg.ConsumerGroup, record.Position); err != nil {
		// The artifact is stored, a redelivery only overwrites it with the same bytes.
		logger.Error("failed to acknowledge job", zap.Error(err))
		r.report(ctx, &trainingmodel.DispatchError{
			JobID:    job.JobID,
			Position: record.Position,
			Stage:    trainingmodel.StageAck,
			Err:      err,
		})
		return
	}

	r.counters.completed.Add(ctx, 1)
	logger.Info("job completed", zap.String("uri", artifact.URI))
}

// report sends err on the errors channel without blocking.
func (r *Repository) report(ctx context.Context, err *trainingmodel.DispatchError) {
	select {
	case r.errs <- err:
	default:
		loggerpkg.FromContext(ctx).Warn("errors channel full, dropping dispatch error",
			zap.String("position", err.Position),
			zap.String("stage", err.Stage.ToString()),
		)
	}
}

// Execute runs the job body and stores its artifact at the deterministic key.
// Running the same job again yields the same URI and overwrites the same object.
func (r *Repository) Execute(ctx context.Context, job *trainingmodel.TrainJob) (artifact *trainingmodel.Artifact, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.Execute", trace.WithAttributes(
		attribute.String("job_id", job.JobID),
		attribute.String("target_id", job.TargetID),
		attribute.String("method", job.Method),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	content, err := r.svc.Trainer.Train(ctx, job)
	if err != nil {
		return nil, stageError(job, trainingmodel.StageTrain, err)
	}

	key := job.ArtifactKey()
	if err = r.svc.Store.EnsureBucket(ctx, r.cfg.Bucket); err != nil {
		return nil, stageError(job, trainingmodel.StageStore, err)
	}
	if err = r.svc.Store.Put(ctx, r.cfg.Bucket, key, content); err != nil {
		return nil, stageError(job, trainingmodel.StageStore, err)
	}

	artifact = &trainingmodel.Artifact{
		URI:     r.svc.Store.URIFor(r.cfg.Bucket, key),
		Bucket:  r.cfg.Bucket,
		Key:     key,
		Content: content,
	}
	span.SetAttributes(attribute.String("uri", artifact.URI))

	if r.svc.Publisher != nil {
		event := trainingmodel.NewArtifactEvent(job, artifact, r.now())
		if err = r.svc.Publisher.Publish(ctx, event); err != nil {
			return nil, stageError(job, trainingmodel.StagePublish, err)
		}
	}

	return artifact, nil
}

func stageError(job *trainingmodel.TrainJob, stage trainingmodel.Stage, err error) error {
	return &trainingmodel.DispatchError{
		JobID: job.JobID,
		Stage: stage,
		Err:   err,
	}
}
