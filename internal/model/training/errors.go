package training

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamUnavailable is returned when the job stream cannot be reached.
	ErrStreamUnavailable = errors.New("job stream unavailable")

	// ErrStorageUnavailable is returned when the artifact store cannot be reached.
	ErrStorageUnavailable = errors.New("artifact storage unavailable")

	// ErrDeserialization is returned for stream entries that do not hold a valid job.
	ErrDeserialization = errors.New("malformed job record")

	// ErrTimeout is returned when waiting for an artifact exceeds the caller's timeout.
	ErrTimeout = errors.New("timed out waiting for artifact")

	// ErrArtifactNotFound is returned when no object exists at the requested key.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidJob is returned when a submission fails validation.
	ErrInvalidJob = errors.New("invalid train job")
)

// Stage identifies where in the dispatch pipeline a job failed.
type Stage string

// Stages of the dispatch pipeline.
const (
	StageDecode  Stage = "decode"
	StageTrain   Stage = "train"
	StageStore   Stage = "store"
	StagePublish Stage = "publish"
	StageAck     Stage = "ack"
)

// ToString converts the Stage to its string representation.
func (s Stage) ToString() string {
	return string(s)
}

// DispatchError describes a failed attempt at processing a stream entry.
type DispatchError struct {
	JobID    string
	Position string
	Stage    Stage
	Err      error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("dispatch %s at position %s: %v", e.Stage, e.Position, e.Err)
	}

	return fmt.Sprintf("dispatch %s for job %s at position %s: %v", e.Stage, e.JobID, e.Position, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
