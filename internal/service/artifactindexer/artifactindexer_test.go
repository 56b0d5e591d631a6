package artifactindexer_test

import (
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/myriadstar/trainer/internal/service/artifactindexer"
	artifactindexermock "github.com/myriadstar/trainer/internal/service/artifactindexer/mock"
)

func TestRun(t *testing.T) {
	ctrl := gomock.NewController(t)

	// Create a mock repository
	mockRepo := artifactindexermock.NewMockRepository(ctrl)

	// Create a new service
	s := artifactindexer.New(mockRepo)

	type want struct {
		err error
	}

	tests := []struct {
		name string
		mock func()
		want want
	}{
		{
			name: "success",
			mock: func() {
				mockRepo.EXPECT().Run(
					gomock.Any(),
				).Return(nil)
			},
			want: want{
				err: nil,
			},
		},
		{
			name: "error",
			mock: func() {
				mockRepo.EXPECT().Run(
					gomock.Any(),
				).Return(errClientClosed)
			},
			want: want{
				err: errClientClosed,
			},
		},
	}

	defer ctrl.Finish()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock()
			err := s.Run(t.Context())
			if !errors.Is(err, tt.want.err) {
				t.Errorf("Run() error = %v, want %v", err, tt.want.err)
			}
		})
	}
}

var errClientClosed = errors.New("client closed")
