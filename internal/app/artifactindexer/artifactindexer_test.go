package artifactindexer_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/myriadstar/trainer/internal/app/artifactindexer"
	artifactindexermock "github.com/myriadstar/trainer/internal/app/artifactindexer/mock"
)

func TestRun(t *testing.T) {
	ctrl := gomock.NewController(t)

	svc := artifactindexermock.NewMockService(ctrl)
	app := artifactindexer.New(t.Context(), svc)

	errIndex := errors.New("failed to upsert artifact")

	tests := []struct {
		name string
		ret  error
		want error
	}{
		{name: "canceled", ret: context.Canceled, want: nil},
		{name: "error", ret: errIndex, want: errIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.EXPECT().Run(gomock.Any()).Return(tt.ret)
			if err := app.Run(t.Context()); !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}
