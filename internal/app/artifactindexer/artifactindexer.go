//go:generate mockgen -source=$GOFILE -package=$GOPACKAGE -destination=./mock/$GOFILE

package artifactindexer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	loggerpkg "github.com/myriadstar/trainer/internal/pkg/logger"
)

// Service provides artifact indexer related operations.
type Service interface {
	Run(ctx context.Context) error
}

// ArtifactIndexer represents the artifact indexer.
type ArtifactIndexer struct {
	logger *zap.Logger
	svc    Service
}

// New creates a new artifact indexer.
func New(ctx context.Context, svc Service) *ArtifactIndexer {
	return &ArtifactIndexer{
		logger: loggerpkg.FromContext(ctx),
		svc:    svc,
	}
}

// Run starts the artifact indexer. Cancellation is a clean exit.
func (ai *ArtifactIndexer) Run(ctx context.Context) error {
	err := ai.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		ai.logger.Error("error occurred while running the artifact indexer job", zap.Error(err))
		return err
	}

	ai.logger.Info("successfully exited the artifact indexer job")
	return nil
}
