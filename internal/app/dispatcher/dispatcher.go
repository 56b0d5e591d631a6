//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
)

// Service provides dispatcher related operations.
type Service interface {
	Run(ctx context.Context) error
	Errors() <-chan *trainingmodel.DispatchError
}

// Dispatcher represents the training worker.
type Dispatcher struct {
	logger *zap.Logger
	svc    Service
}

// New creates a new dispatcher.
func New(ctx context.Context, svc Service) *Dispatcher {
	return &Dispatcher{
		logger: loggerpkg.FromContext(ctx),
		svc:    svc,
	}
}

// Run starts the workers and logs every failed attempt until ctx is canceled.
// Reports still buffered when the workers stop are logged before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.drain(stopped)
	}()

	err := d.svc.Run(ctx)
	close(stopped)
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("error occurred while running the training worker job", zap.Error(err))
		return err
	}

	d.logger.Info("successfully exited the training worker job")
	return nil
}

func (d *Dispatcher) drain(stopped <-chan struct{}) {
	errs := d.svc.Errors()
	for {
		select {
		case <-stopped:
			d.flush(errs)
			return
		case dispatchErr, ok := <-errs:
			if !ok {
				return
			}
			d.log(dispatchErr)
		}
	}
}

// flush logs the reports left in errs without waiting for new ones.
func (d *Dispatcher) flush(errs <-chan *trainingmodel.DispatchError) {
	for {
		select {
		case dispatchErr, ok := <-errs:
			if !ok {
				return
			}
			d.log(dispatchErr)
		default:
			return
		}
	}
}

func (d *Dispatcher) log(err *trainingmodel.DispatchError) {
	fields := []zap.Field{
		zap.String("job_id", err.JobID),
		zap.String("position", err.Position),
		zap.String("stage", err.Stage.ToString()),
		zap.Error(err.Err),
	}

	switch err.Stage {
	case trainingmodel.StageDecode:
		d.logger.Warn("discarded poison job record", fields...)
	default:
		d.logger.Error("job attempt failed", fields...)
	}
}
