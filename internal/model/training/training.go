package training

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMethod is the training method used when the caller does not name one.
	DefaultMethod = "qlora"

	// DefaultURIScheme is the scheme used for artifact URIs.
	DefaultURIScheme = "s3"

	// PayloadField is the stream entry field holding the encoded TrainJob.
	PayloadField = "payload"
)

// TrainJob represents a request to train a target entity.
type TrainJob struct {
	JobID     string    `json:"job_id" validate:"required"`
	TargetID  string    `json:"target_id" validate:"required"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTrainJob builds a TrainJob, falling back to DefaultMethod when method is empty.
func NewTrainJob(jobID, targetID, method string, now time.Time) *TrainJob {
	if method == "" {
		method = DefaultMethod
	}

	return &TrainJob{
		JobID:     jobID,
		TargetID:  targetID,
		Method:    method,
		CreatedAt: now.UTC(),
	}
}

// ArtifactKey returns the object key the job's artifact is written to.
func (j *TrainJob) ArtifactKey() string {
	return ArtifactKey(j.TargetID, j.JobID)
}

// JobRecord is a stream entry handed to a consumer.
type JobRecord struct {
	// Position is the stream-assigned entry ID.
	Position string

	// Payload is the encoded TrainJob, nil if the entry carried none.
	Payload []byte

	// Deliveries counts how many times the entry has been handed out, starting at 1.
	Deliveries int64
}

// Artifact represents the output of a completed job.
type Artifact struct {
	URI     string
	Bucket  string
	Key     string
	Content []byte
}

// wireJob also accepts "star_id", the target field name used by earlier producers.
type wireJob struct {
	TrainJob
	StarID string `json:"star_id"`
}

// EncodeJob serializes the job for the stream.
func EncodeJob(job *TrainJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal train job: %w", err)
	}

	return data, nil
}

// DecodeJob parses a stream payload into a TrainJob.
func DecodeJob(data []byte) (*TrainJob, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDeserialization)
	}

	var wire wireJob
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	job := wire.TrainJob
	if job.TargetID == "" {
		job.TargetID = wire.StarID
	}

	if strings.TrimSpace(job.JobID) == "" || strings.TrimSpace(job.TargetID) == "" {
		return nil, fmt.Errorf("%w: job_id and target_id are required", ErrDeserialization)
	}

	if job.Method == "" {
		job.Method = DefaultMethod
	}

	return &job, nil
}

// ArtifactKey returns the key convention "{target_id}_{job_id}".
func ArtifactKey(targetID, jobID string) string {
	return fmt.Sprintf("%s_%s", targetID, jobID)
}

// ArtifactURI returns "{scheme}://{bucket}/{key}".
func ArtifactURI(scheme, bucket, key string) string {
	if scheme == "" {
		scheme = DefaultURIScheme
	}

	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}
