package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/eapache/go-resiliency/breaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	svcpkg "github.com/myriadstar/trainer/internal/pkg/svc"
)

const contentType = "application/octet-stream"

// API is the subset of the S3 client used by the store.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config is the configuration for the artifact store.
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	URIScheme    string

	BreakerErrorThreshold   int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
}

// Store keeps immutable artifact blobs in an S3 compatible object store.
type Store struct {
	tp     trace.Tracer
	api    API
	cb     *breaker.Breaker
	scheme string
}

// New creates a store talking to the configured endpoint with static credentials.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithAPI(client, cfg), nil
}

// NewWithAPI creates a store on top of an existing S3 client.
func NewWithAPI(api API, cfg *Config) *Store {
	errorThreshold := cfg.BreakerErrorThreshold
	if errorThreshold <= 0 {
		errorThreshold = 5
	}
	successThreshold := cfg.BreakerSuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 1
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	scheme := cfg.URIScheme
	if scheme == "" {
		scheme = trainingmodel.DefaultURIScheme
	}

	return &Store{
		tp:     otel.Tracer(svcpkg.Info().GetName()),
		api:    api,
		cb:     breaker.New(errorThreshold, successThreshold, timeout),
		scheme: scheme,
	}
}

// URIFor returns the artifact URI for bucket and key. It performs no I/O.
func (s *Store) URIFor(bucket, key string) string {
	return trainingmodel.ArtifactURI(s.scheme, bucket, key)
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) (err error) {
	ctx, span := s.tp.Start(ctx, "ObjectStore.EnsureBucket", trace.WithAttributes(
		attribute.String("bucket", bucket),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	err = s.run("ensure bucket", func() error {
		_, headErr := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if headErr == nil {
			return nil
		}
		if !isNotFound(headErr) {
			return headErr
		}

		_, createErr := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		if createErr != nil && !isBucketOwned(createErr) {
			return createErr
		}

		return nil
	})

	return err
}

// Put writes content at bucket/key, replacing any existing object.
func (s *Store) Put(ctx context.Context, bucket, key string, content []byte) (err error) {
	ctx, span := s.tp.Start(ctx, "ObjectStore.Put", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
		attribute.Int("size", len(content)),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	err = s.run("put", func() error {
		_, putErr := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			ContentType:   aws.String(contentType),
		})
		return putErr
	})

	return err
}

// Get reads the object at bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) (content []byte, err error) {
	ctx, span := s.tp.Start(ctx, "ObjectStore.Get", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	var notFound bool
	err = s.run("get", func() error {
		out, getErr := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if getErr != nil {
			if isNotFound(getErr) {
				notFound = true
				return nil
			}
			return getErr
		}
		//nolint:errcheck // The body is fully read before closing
		defer out.Body.Close()

		content, getErr = io.ReadAll(out.Body)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	if notFound {
		err = fmt.Errorf("%w: %s", trainingmodel.ErrArtifactNotFound, s.URIFor(bucket, key))
		return nil, err
	}

	return content, nil
}

// Exists reports whether an object exists at bucket/key.
func (s *Store) Exists(ctx context.Context, bucket, key string) (exists bool, err error) {
	ctx, span := s.tp.Start(ctx, "ObjectStore.Exists", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key),
	))
	defer func() {
		if err != nil {
			span.SetStatus(otelcodes.Error, err.Error())
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("exists", exists))
		span.End()
	}()

	err = s.run("head", func() error {
		_, headErr := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if headErr != nil {
			if isNotFound(headErr) {
				return nil
			}
			return headErr
		}

		exists = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return exists, nil
}

// run executes fn through the circuit breaker and maps failures to ErrStorageUnavailable.
// Only errors returned by fn count against the breaker, so callers translate expected
// answers such as a missing object into a nil error first.
func (s *Store) run(op string, fn func() error) error {
	err := s.cb.Run(fn)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %v", trainingmodel.ErrStorageUnavailable, op, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	default:
		return false
	}
}

func isBucketOwned(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" || apiErr.ErrorCode() == "BucketAlreadyExists"
}
