package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	"github.com/myriadstar/trainer/internal/pkg/objectstore"
)

// fakeS3 is an in-memory S3 API. When down is set every call fails like a lost connection.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	creates int
	puts    int
	down    bool
}

var errConnectionRefused = errors.New("dial tcp 127.0.0.1:9000: connect: connection refused")

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: make(map[string]map[string][]byte)}
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errConnectionRefused
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errConnectionRefused
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.creates++
	f.buckets[aws.ToString(in.Bucket)] = make(map[string][]byte)
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errConnectionRefused
	}
	bucket, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts++
	bucket[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errConnectionRefused
	}
	data, ok := f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, errConnectionRefused
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func newStore(api objectstore.API) *objectstore.Store {
	return objectstore.NewWithAPI(api, &objectstore.Config{
		BreakerErrorThreshold:   2,
		BreakerSuccessThreshold: 1,
		BreakerTimeout:          time.Hour,
	})
}

func TestURIFor(t *testing.T) {
	store := newStore(newFakeS3())
	assert.Equal(t, "s3://model-artifacts/star-42_j1", store.URIFor("model-artifacts", "star-42_j1"))

	minio := objectstore.NewWithAPI(newFakeS3(), &objectstore.Config{URIScheme: "minio"})
	assert.Equal(t, "minio://model-artifacts/star-42_j1", minio.URIFor("model-artifacts", "star-42_j1"))
}

func TestEnsureBucket(t *testing.T) {
	api := newFakeS3()
	store := newStore(api)

	require.NoError(t, store.EnsureBucket(t.Context(), "model-artifacts"))
	require.NoError(t, store.EnsureBucket(t.Context(), "model-artifacts"))
	assert.Equal(t, 1, api.creates)
}

func TestPutGetExists(t *testing.T) {
	api := newFakeS3()
	store := newStore(api)
	ctx := t.Context()

	require.NoError(t, store.EnsureBucket(ctx, "model-artifacts"))

	exists, err := store.Exists(ctx, "model-artifacts", "star-42_j1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "model-artifacts", "star-42_j1")
	assert.ErrorIs(t, err, trainingmodel.ErrArtifactNotFound)

	require.NoError(t, store.Put(ctx, "model-artifacts", "star-42_j1", []byte("v1")))
	require.NoError(t, store.Put(ctx, "model-artifacts", "star-42_j1", []byte("v2")))

	exists, err = store.Exists(ctx, "model-artifacts", "star-42_j1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Last writer wins on the same key.
	content, err := store.Get(ctx, "model-artifacts", "star-42_j1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)
	assert.Len(t, api.buckets["model-artifacts"], 1)
}

func TestStorageUnavailable(t *testing.T) {
	api := newFakeS3()
	store := newStore(api)
	ctx := t.Context()

	api.setDown(true)

	assert.ErrorIs(t, store.EnsureBucket(ctx, "model-artifacts"), trainingmodel.ErrStorageUnavailable)
	assert.ErrorIs(t, store.Put(ctx, "model-artifacts", "k", []byte("v")), trainingmodel.ErrStorageUnavailable)

	// The breaker is open now, calls fail fast even once the backend recovers.
	api.setDown(false)
	_, err := store.Exists(ctx, "model-artifacts", "k")
	assert.ErrorIs(t, err, trainingmodel.ErrStorageUnavailable)
	assert.Equal(t, 0, api.creates)
}

func TestExists_Traced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	api := newFakeS3()
	store := newStore(api)
	ctx := t.Context()

	require.NoError(t, store.EnsureBucket(ctx, "model-artifacts"))
	require.NoError(t, store.Put(ctx, "model-artifacts", "star-42_j1", []byte("v1")))

	exists, err := store.Exists(ctx, "model-artifacts", "star-42_j1")
	require.NoError(t, err)
	require.True(t, exists)

	api.setDown(true)
	_, err = store.Exists(ctx, "model-artifacts", "star-42_j1")
	require.Error(t, err)

	var spans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "ObjectStore.Exists" {
			spans = append(spans, span)
		}
	}
	require.Len(t, spans, 2)

	assert.Contains(t, spans[0].Attributes(), attribute.String("key", "star-42_j1"))
	assert.Contains(t, spans[0].Attributes(), attribute.Bool("exists", true))
	assert.Equal(t, otelcodes.Unset, spans[0].Status().Code)
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)
}
