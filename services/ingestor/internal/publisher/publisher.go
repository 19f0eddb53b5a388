package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/pkg/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const signalKey = "sentiment"

// Publisher delivers the advisory sentiment signal to downstream consumers.
type Publisher interface {
	PublishSignal(ctx context.Context, signal models.SentimentSignal) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

func NewKafka(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	logger.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("Kafka signal publisher configured")

	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishSignal(ctx context.Context, signal models.SentimentSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(signalKey),
		Value: payload,
		Time:  signal.ComputedAt,
		Headers: []kafka.Header{
			{Key: "halt", Value: []byte(fmt.Sprint(signal.Halt))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish signal to %s: %w", p.topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic": p.topic,
		"halt":  signal.Halt,
	}).Debug("Published sentiment signal")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs the signal. It is used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishSignal(ctx context.Context, signal models.SentimentSignal) error {
	p.logger.WithFields(logrus.Fields{
		"mean":      signal.Mean,
		"count":     signal.Count,
		"threshold": signal.Threshold,
		"halt":      signal.Halt,
	}).Info("Sentiment signal")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
