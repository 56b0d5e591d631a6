package trainer

import (
	"context"
	"fmt"
	"time"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
)

// Placeholder stands in for a real training run. Its output depends only on the job,
// so executing the same job twice yields byte-identical artifacts.
type Placeholder struct {
	delay time.Duration
}

// NewPlaceholder creates a placeholder trainer that takes delay to finish each job.
func NewPlaceholder(delay time.Duration) *Placeholder {
	return &Placeholder{delay: delay}
}

// Train produces the fake weights for job.
func (p *Placeholder) Train(ctx context.Context, job *trainingmodel.TrainJob) ([]byte, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf(
		"fake-weights for star=%s job=%s method=%s",
		job.TargetID,
		job.JobID,
		job.Method,
	)), nil
}
