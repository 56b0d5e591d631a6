package submitter_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/myriadstar/trainer/internal/app/submitter"
	submittermock "github.com/myriadstar/trainer/internal/app/submitter/mock"
	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	trainingsvc "github.com/myriadstar/trainer/internal/service/training"
)

func TestRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := submittermock.NewMockService(ctrl)

	tests := []struct {
		name    string
		cfg     *submitter.Config
		mock    func()
		out     string
		isError bool
	}{
		{
			name: "submit only",
			cfg:  &submitter.Config{JobID: "j1", TargetID: "star-42"},
			mock: func() {
				svc.EXPECT().Submit(gomock.Any(), &trainingsvc.SubmitRequest{JobID: "j1", TargetID: "star-42"}).
					Return(trainingmodel.NewTrainJob("j1", "star-42", "", time.Now()), nil)
			},
			out: "j1\n",
		},
		{
			name: "submit and await",
			cfg:  &submitter.Config{JobID: "j1", TargetID: "star-42", Method: "qlora", AwaitTimeout: time.Minute},
			mock: func() {
				svc.EXPECT().SubmitAndAwait(gomock.Any(), &trainingsvc.SubmitRequest{JobID: "j1", TargetID: "star-42", Method: "qlora"}, time.Minute).
					Return(&trainingmodel.Artifact{URI: "s3://model-artifacts/star-42_j1", Content: []byte("w")}, nil)
			},
			out: "s3://model-artifacts/star-42_j1\n",
		},
		{
			name: "error: timeout",
			cfg:  &submitter.Config{TargetID: "star-42", AwaitTimeout: time.Second},
			mock: func() {
				svc.EXPECT().SubmitAndAwait(gomock.Any(), gomock.Any(), time.Second).
					Return(nil, fmt.Errorf("%w: job j1 after 1s", trainingmodel.ErrTimeout))
			},
			isError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()

			var out bytes.Buffer
			err := submitter.New(t.Context(), tt.cfg, svc, &out).Run(t.Context())
			if tt.isError {
				require.Error(t, err)
				assert.Empty(t, out.String())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.out, out.String())
		})
	}
}
