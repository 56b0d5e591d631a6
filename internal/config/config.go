package config

import (
	"errors"
	"fmt"
	"time"
)

const envPrefix = ""

// Environment holds the deployment environment.
type Environment struct {
	Env string `envconfig:"ENV" default:"development"`
}

// Redis holds the Redis connection configuration backing the job stream.
type Redis struct {
	Host           string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port           int           `envconfig:"REDIS_PORT" default:"6379"`
	Password       string        `envconfig:"REDIS_PASSWORD" default:""`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	ReadTimeout    time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
	MaxMemory      string        `envconfig:"REDIS_MAX_MEMORY" default:""`
	EvictionPolicy string        `envconfig:"REDIS_EVICTION_POLICY" default:"noeviction"`
}

// Stream holds the job stream configuration shared by producer and dispatcher.
type Stream struct {
	Key              string        `envconfig:"STREAM_KEY" default:"mystar:trainer:jobs"`
	ConsumerGroup    string        `envconfig:"STREAM_CONSUMER_GROUP" default:"trainer-workers"`
	DeliveryDeadline time.Duration `envconfig:"STREAM_DELIVERY_DEADLINE" default:"5m"`
	PollInterval     time.Duration `envconfig:"STREAM_POLL_INTERVAL" default:"2s"`
}

// ErrInvalidConfig is returned when loaded values contradict each other.
var ErrInvalidConfig = errors.New("invalid configuration")

func (s *Stream) validate() error {
	if s.DeliveryDeadline <= 0 {
		return fmt.Errorf("%w: STREAM_DELIVERY_DEADLINE must be positive, got %s", ErrInvalidConfig, s.DeliveryDeadline)
	}

	return nil
}

// ObjectStore holds the S3 compatible artifact store configuration.
type ObjectStore struct {
	Endpoint     string `envconfig:"OBJECT_STORE_ENDPOINT" default:"http://localhost:9000"`
	Region       string `envconfig:"OBJECT_STORE_REGION" default:"us-east-1"`
	AccessKey    string `envconfig:"OBJECT_STORE_ACCESS_KEY" default:"mystar"`
	SecretKey    string `envconfig:"OBJECT_STORE_SECRET_KEY" default:"mystarpass"`
	UsePathStyle bool   `envconfig:"OBJECT_STORE_USE_PATH_STYLE" default:"true"`
	Bucket       string `envconfig:"OBJECT_STORE_BUCKET" default:"model-artifacts"`
	URIScheme    string `envconfig:"OBJECT_STORE_URI_SCHEME" default:"s3"`

	BreakerErrorThreshold   int           `envconfig:"OBJECT_STORE_BREAKER_ERROR_THRESHOLD" default:"5"`
	BreakerSuccessThreshold int           `envconfig:"OBJECT_STORE_BREAKER_SUCCESS_THRESHOLD" default:"1"`
	BreakerTimeout          time.Duration `envconfig:"OBJECT_STORE_BREAKER_TIMEOUT" default:"30s"`
}

// Kafka holds the Kafka configuration for artifact events.
type Kafka struct {
	Brokers       []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	ConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"artifact-indexer"`
}

// Postgres holds the PostgreSQL configuration for the artifact index.
type Postgres struct {
	Host        string        `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port        int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User        string        `envconfig:"POSTGRES_USER" default:"postgres"`
	Password    string        `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	Database    string        `envconfig:"POSTGRES_DB" default:"mystar"`
	MaxConns    int32         `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	MinConns    int32         `envconfig:"POSTGRES_MIN_CONNS" default:"2"`
	MaxConnLife time.Duration `envconfig:"POSTGRES_MAX_CONN_LIFE" default:"1h"`
	MaxConnIdle time.Duration `envconfig:"POSTGRES_MAX_CONN_IDLE" default:"30m"`
	DialTimeout time.Duration `envconfig:"POSTGRES_DIAL_TIMEOUT" default:"5s"`
	SSLMode     string        `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
}
