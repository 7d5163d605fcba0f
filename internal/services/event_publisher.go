package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/segmentio/kafka-go"
)

// DefaultFindingsTopic is used when no topic is configured
const DefaultFindingsTopic = "warden.findings"

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FindingEvent is the payload published for every new finding
type FindingEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Finding   *models.Finding `json:"finding"`
}

// KafkaFindingPublisher streams new findings, keyed by subject id so events
// for one subject stay ordered on a partition
type KafkaFindingPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaFindingPublisher creates a publisher writing to topic on brokers
func NewKafkaFindingPublisher(brokers []string, topic string) *KafkaFindingPublisher {
	if topic == "" {
		topic = DefaultFindingsTopic
	}
	return NewKafkaFindingPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	})
}

// NewKafkaFindingPublisherWithWriter wraps an existing writer
func NewKafkaFindingPublisherWithWriter(writer MessageWriter) *KafkaFindingPublisher {
	return &KafkaFindingPublisher{writer: writer, now: time.Now}
}

func (p *KafkaFindingPublisher) Notify(ctx context.Context, finding *models.Finding) error {
	payload, err := json.Marshal(FindingEvent{
		Type:      "finding_raised",
		Timestamp: p.now().UTC(),
		Source:    "scan_service",
		Finding:   finding,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal finding event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(finding.SubjectID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish finding event: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (p *KafkaFindingPublisher) Close() error {
	return p.writer.Close()
}
