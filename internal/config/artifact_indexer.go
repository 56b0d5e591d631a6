package config

import "github.com/kelseyhightower/envconfig"

// ArtifactIndexer holds the artifact indexer configuration.
type ArtifactIndexer struct {
	Environment

	Kafka
	Postgres
	ArtifactIndexerConfig
}

// ArtifactIndexerConfig holds the configuration for the artifact indexer.
type ArtifactIndexerConfig struct {
	ParallelismLimit int `envconfig:"ARTIFACT_INDEXER_PARALLELISM_LIMIT" default:"5"`
}

// InitArtifactIndexerConfig initializes the artifact indexer configuration.
func InitArtifactIndexerConfig() (*ArtifactIndexer, error) {
	var cfg ArtifactIndexer
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
