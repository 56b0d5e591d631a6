//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package artifactindexer

import (
	"context"
)

// Repository provides artifact indexer related operations.
type Repository interface {
	Run(ctx context.Context) error
}

// Service provides artifact indexer related operations.
type Service struct {
	repo Repository
}

// New creates a new artifact indexer service.
func New(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// Run starts the artifact indexer.
func (s *Service) Run(ctx context.Context) (err error) {
	err = s.repo.Run(ctx)
	if err != nil {
		return err
	}

	return nil
}
