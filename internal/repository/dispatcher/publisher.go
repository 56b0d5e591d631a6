package dispatcher

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
)

// Producer is the subset of the Kafka client used to publish artifact events.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher publishes artifact events to a Kafka topic, keyed by job id.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher creates a publisher writing to topic.
func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish synchronously produces the event.
func (p *KafkaPublisher) Publish(ctx context.Context, event *trainingmodel.ArtifactEvent) error {
	value, err := trainingmodel.EncodeArtifactEvent(event)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.JobID),
		Value: value,
	}

	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish artifact event: %w", err)
	}

	return nil
}
