package artifactindexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	postgrespkg "github.com/myriadstar/trainer/internal/pkg/postgres"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

const (
	upsertRetries = 3
	upsertBackoff = 200 * time.Millisecond
)

// Keeps the newest completion when events for a job arrive out of order.
var upsertArtifactQuery = fmt.Sprintf(`
	INSERT INTO %s (job_id, target_id, method, uri, size, checksum, completed_at, indexed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (job_id) DO UPDATE SET
		target_id    = EXCLUDED.target_id,
		method       = EXCLUDED.method,
		uri          = EXCLUDED.uri,
		size         = EXCLUDED.size,
		checksum     = EXCLUDED.checksum,
		completed_at = EXCLUDED.completed_at,
		indexed_at   = NOW()
	WHERE %s.completed_at <= EXCLUDED.completed_at
`, postgrespkg.TableTrainingArtifacts, postgrespkg.TableTrainingArtifacts)

// errClientClosed is returned when the Kafka client is closed while polling.
var errClientClosed = errors.New("kafka client closed")

// Consumer is the subset of the Kafka client used to consume artifact events.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Store is the subset of the postgres store used to index artifacts.
type Store interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
}

// Config represents the repository constants configuration.
type Config struct {
	ParallelismLimit int
}

// Repository provides artifact indexer repository.
type Repository struct {
	tp        trace.Tracer
	cfg       *Config
	validator *validator.Validate
	kfk       Consumer
	pg        Store
	backoff   []time.Duration
}

// New creates a new artifact indexer repository.
func New(cfg *Config, validator *validator.Validate, kfk Consumer, pg Store) *Repository {
	if cfg.ParallelismLimit <= 0 {
		cfg.ParallelismLimit = 1
	}

	return &Repository{
		tp:        otel.Tracer(svcpkg.Info().GetName()),
		cfg:       cfg,
		validator: validator,
		kfk:       kfk,
		pg:        pg,
		backoff:   retrier.ExponentialBackoff(upsertRetries, upsertBackoff),
	}
}

// Run consumes artifact events and upserts them into the artifact index.
// Partitions are indexed concurrently, records within a partition in offset order.
// Only the records before the first failure in a partition are committed, so a
// record is committed only after its row is written. Malformed events are committed
// and skipped. Run returns when the index cannot be written, and the uncommitted
// records are consumed again after a restart.
func (r *Repository) Run(ctx context.Context) error {
	logger := loggerpkg.FromContext(ctx)

	for {
		// Check context cancellation before processing
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Continue processing
		}

		fetches := r.kfk.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return errClientClosed
		}

		for _, fetchErr := range fetches.Errors() {
			if errors.Is(fetchErr.Err, context.Canceled) || errors.Is(fetchErr.Err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("error while fetching records",
				zap.String("topic", fetchErr.Topic),
				zap.Int32("partition", fetchErr.Partition),
				zap.Error(fetchErr.Err),
			)
		}

		if fetches.Empty() {
			continue
		}

		// Error group for indexing partitions concurrently
		eg, groupCtx := errgroup.WithContext(ctx)
		eg.SetLimit(r.cfg.ParallelismLimit)

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			eg.Go(func() error {
				return r.indexPartition(groupCtx, p.Records)
			})
		})

		if err := eg.Wait(); err != nil {
			return err
		}
	}
}

// indexPartition indexes records in order and commits the ones handled before the first failure.
func (r *Repository) indexPartition(ctx context.Context, records []*kgo.Record) error {
	handled := make([]*kgo.Record, 0, len(records))

	var err error
	for _, record := range records {
		if err = r.handle(ctx, record); err != nil {
			break
		}
		handled = append(handled, record)
	}

	// Commit the handled prefix even when a sibling partition canceled ctx.
	r.commit(context.WithoutCancel(ctx), handled)

	return err
}

// handle indexes a single record. Malformed events are logged and skipped.
func (r *Repository) handle(ctx context.Context, record *kgo.Record) error {
	logger := loggerpkg.FromContext(ctx).With(
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset),
	)

	event, err := trainingmodel.DecodeArtifactEvent(record.Value)
	if err == nil {
		err = r.validator.Struct(event)
	}
	if err != nil {
		logger.Warn("skipping malformed artifact event",
			zap.String("message", string(record.Value)),
			zap.Error(err),
		)
		return nil
	}

	if err := r.Index(ctx, event); err != nil {
		logger.Error("failed to index artifact",
			zap.String("job_id", event.JobID),
			zap.Error(err),
		)
		return err
	}

	logger.Info("artifact indexed",
		zap.String("job_id", event.JobID),
		zap.String("uri", event.URI),
	)
	return nil
}

func (r *Repository) commit(ctx context.Context, records []*kgo.Record) {
	if len(records) == 0 {
		return
	}

	if err := r.kfk.CommitRecords(ctx, records...); err != nil {
		// The records are consumed again and the upsert is idempotent.
		last := records[len(records)-1]
		loggerpkg.FromContext(ctx).Error("failed to commit records",
			zap.String("topic", last.Topic),
			zap.Int32("partition", last.Partition),
			zap.Int64("offset", last.Offset),
			zap.Error(err),
		)
	}
}

// Index upserts the artifact row for event, retrying transient failures.
func (r *Repository) Index(ctx context.Context, event *trainingmodel.ArtifactEvent) (err error) {
	ctx, span := r.tp.Start(ctx, "Repository.Index", trace.WithAttributes(
		attribute.String("job_id", event.JobID),
		attribute.String("uri", event.URI),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	ret := retrier.New(r.backoff, nil)
	err = ret.RunCtx(ctx, func(ctx context.Context) error {
		_, execErr := r.pg.Exec(ctx, upsertArtifactQuery,
			event.JobID,
			event.TargetID,
			event.Method,
			event.URI,
			event.Size,
			event.Checksum,
			event.CompletedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to upsert artifact %s: %w", event.JobID, err)
	}

	return nil
}
