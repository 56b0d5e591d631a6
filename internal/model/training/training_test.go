package training_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myriadstar/trainer/internal/model/training"
)

func TestNewTrainJob(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("UTC+8", 8*3600))

	job := training.NewTrainJob("j1", "star-42", "", now)
	assert.Equal(t, training.DefaultMethod, job.Method)
	assert.Equal(t, time.UTC, job.CreatedAt.Location())
	assert.True(t, job.CreatedAt.Equal(now))
	assert.Equal(t, "star-42_j1", job.ArtifactKey())
}

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    *training.TrainJob
		wantErr error
	}{
		{
			name: "success",
			data: []byte(`{"job_id":"j1","target_id":"star-42","method":"lora","created_at":"2025-01-02T03:04:05Z"}`),
			want: &training.TrainJob{
				JobID:     "j1",
				TargetID:  "star-42",
				Method:    "lora",
				CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "success: missing method falls back to default",
			data: []byte(`{"job_id":"j1","target_id":"star-42","created_at":"2025-01-02T03:04:05Z"}`),
			want: &training.TrainJob{
				JobID:     "j1",
				TargetID:  "star-42",
				Method:    training.DefaultMethod,
				CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "success: star_id names the target",
			data: []byte(`{"job_id":"j1","star_id":"star-42","method":"qlora"}`),
			want: &training.TrainJob{
				JobID:    "j1",
				TargetID: "star-42",
				Method:   "qlora",
			},
		},
		{
			name: "success: target_id wins over star_id",
			data: []byte(`{"job_id":"j1","target_id":"star-42","star_id":"star-7"}`),
			want: &training.TrainJob{
				JobID:    "j1",
				TargetID: "star-42",
				Method:   training.DefaultMethod,
			},
		},
		{
			name:    "error: empty payload",
			data:    nil,
			wantErr: training.ErrDeserialization,
		},
		{
			name:    "error: not json",
			data:    []byte("fake-weights"),
			wantErr: training.ErrDeserialization,
		},
		{
			name:    "error: missing target",
			data:    []byte(`{"job_id":"j1"}`),
			wantErr: training.ErrDeserialization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := training.DecodeJob(tt.data)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecodeJob(t *testing.T) {
	job := training.NewTrainJob("j1", "star-42", "qlora", time.Now())

	data, err := training.EncodeJob(job)
	require.NoError(t, err)

	got, err := training.DecodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
}

func TestArtifactURI(t *testing.T) {
	assert.Equal(t, "s3://model-artifacts/star-42_j1", training.ArtifactURI("", "model-artifacts", "star-42_j1"))
	assert.Equal(t, "minio://bucket/key", training.ArtifactURI("minio", "bucket", "key"))
}

func TestNewArtifactEvent(t *testing.T) {
	job := training.NewTrainJob("j1", "star-42", "qlora", time.Now())
	artifact := &training.Artifact{URI: "s3://model-artifacts/star-42_j1", Content: []byte("abc")}

	event := training.NewArtifactEvent(job, artifact, time.Now())
	assert.Equal(t, int64(3), event.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", event.Checksum)

	data, err := training.EncodeArtifactEvent(event)
	require.NoError(t, err)

	decoded, err := training.DecodeArtifactEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event.URI, decoded.URI)
	assert.Equal(t, event.Checksum, decoded.Checksum)
}
