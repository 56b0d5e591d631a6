//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package dispatcher

import (
	"context"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
)

// Repository provides dispatcher related operations.
type Repository interface {
	Run(ctx context.Context) error
	Errors() <-chan *trainingmodel.DispatchError
}

// Service provides dispatcher related operations.
type Service struct {
	repo Repository
}

// New creates a new dispatcher service.
func New(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// Run starts the workers and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) (err error) {
	err = s.repo.Run(ctx)
	if err != nil {
		return err
	}

	return nil
}

// Errors returns the failed attempts reported by the workers.
func (s *Service) Errors() <-chan *trainingmodel.DispatchError {
	return s.repo.Errors()
}
