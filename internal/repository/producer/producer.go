package producer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

// Stream is the append side of the job stream.
type Stream interface {
	Append(ctx context.Context, payload []byte) (string, error)
}

// Repository provides producer repository.
type Repository struct {
	tp     trace.Tracer
	stream Stream
}

// New creates a new producer repository.
func New(stream Stream) *Repository {
	return &Repository{
		tp:     otel.Tracer(svcpkg.Info().GetName()),
		stream: stream,
	}
}

// Submit appends the job to the stream and returns its stream position.
// It never touches the artifact store.
func (r *Repository) Submit(ctx context.Context, job *trainingmodel.TrainJob) (position string, err error) {
	ctx, span := r.tp.Start(ctx, "Repository.Submit", trace.WithAttributes(
		attribute.String("job_id", job.JobID),
		attribute.String("target_id", job.TargetID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	payload, err := trainingmodel.EncodeJob(job)
	if err != nil {
		return "", err
	}

	position, err = r.stream.Append(ctx, payload)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("position", position))
	return position, nil
}
