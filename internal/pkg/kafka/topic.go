package kafka

const (
	// TopicTrainingArtifacts is the name of the Kafka topic for completed training artifacts.
	TopicTrainingArtifacts = "training_artifacts"
)
