package postgres

import "embed"

const (
	// TableTrainingArtifacts is the name of the training artifacts table.
	TableTrainingArtifacts = "training_artifacts"
)

// MigrationsFS holds the embedded schema migrations.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
