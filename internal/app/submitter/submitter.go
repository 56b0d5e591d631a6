//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package submitter

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
	trainingsvc "github.com/myriadstar/trainer/internal/service/training"
)

// Service provides training related operations.
type Service interface {
	Submit(ctx context.Context, req *trainingsvc.SubmitRequest) (*trainingmodel.TrainJob, error)
	SubmitAndAwait(ctx context.Context, req *trainingsvc.SubmitRequest, timeout time.Duration) (*trainingmodel.Artifact, error)
}

// Config represents the submitter configuration.
type Config struct {
	JobID        string
	TargetID     string
	Method       string
	AwaitTimeout time.Duration
}

// Submitter submits a single training job.
type Submitter struct {
	logger *zap.Logger
	cfg    *Config
	svc    Service
	out    io.Writer
}

// New creates a new submitter writing its result to out.
func New(ctx context.Context, cfg *Config, svc Service, out io.Writer) *Submitter {
	return &Submitter{
		logger: loggerpkg.FromContext(ctx),
		cfg:    cfg,
		svc:    svc,
		out:    out,
	}
}

// Run submits the job. With a positive await timeout it waits for the artifact
// and writes its URI, otherwise it writes the job id.
func (s *Submitter) Run(ctx context.Context) error {
	req := &trainingsvc.SubmitRequest{
		JobID:    s.cfg.JobID,
		TargetID: s.cfg.TargetID,
		Method:   s.cfg.Method,
	}

	if s.cfg.AwaitTimeout <= 0 {
		job, err := s.svc.Submit(ctx, req)
		if err != nil {
			s.logger.Error("failed to submit training job", zap.String("target_id", req.TargetID), zap.Error(err))
			return err
		}

		s.logger.Info("training job submitted",
			zap.String("job_id", job.JobID),
			zap.String("target_id", job.TargetID),
			zap.String("method", job.Method),
		)
		_, err = fmt.Fprintln(s.out, job.JobID)
		return err
	}

	artifact, err := s.svc.SubmitAndAwait(ctx, req, s.cfg.AwaitTimeout)
	if err != nil {
		s.logger.Error("failed to obtain training artifact",
			zap.String("target_id", req.TargetID),
			zap.Duration("timeout", s.cfg.AwaitTimeout),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("training artifact ready",
		zap.String("uri", artifact.URI),
		zap.Int("size", len(artifact.Content)),
	)
	_, err = fmt.Fprintln(s.out, artifact.URI)
	return err
}
