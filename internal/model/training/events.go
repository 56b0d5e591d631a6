package training

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactEvent announces that a job's artifact has been written.
type ArtifactEvent struct {
	JobID       string    `json:"job_id" validate:"required"`
	TargetID    string    `json:"target_id" validate:"required"`
	Method      string    `json:"method"`
	URI         string    `json:"uri" validate:"required"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewArtifactEvent builds the event for an artifact produced by job.
func NewArtifactEvent(job *TrainJob, artifact *Artifact, completedAt time.Time) *ArtifactEvent {
	sum := sha256.Sum256(artifact.Content)

	return &ArtifactEvent{
		JobID:       job.JobID,
		TargetID:    job.TargetID,
		Method:      job.Method,
		URI:         artifact.URI,
		Size:        int64(len(artifact.Content)),
		Checksum:    hex.EncodeToString(sum[:]),
		CompletedAt: completedAt.UTC(),
	}
}

// EncodeArtifactEvent serializes the event for Kafka.
func EncodeArtifactEvent(event *ArtifactEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact event: %w", err)
	}

	return data, nil
}

// DecodeArtifactEvent parses an artifact event.
func DecodeArtifactEvent(data []byte) (*ArtifactEvent, error) {
	var event ArtifactEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	return &event, nil
}
