package consumer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	log "github.com/sirupsen/logrus"

	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/configuration"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/model"
)

const (
	defaultPollTimeout      = time.Second
	initialReconnectBackoff = 500 * time.Millisecond
	maxReconnectBackoff     = 10 * time.Second
	maxReconnectAttempts    = 15
	reconnectCooldown       = 30 * time.Second
	statsLogInterval        = 60 * time.Second
)

// Reader is the subset of kafka.Reader the consumer relies on. Offsets are always
// committed explicitly via CommitMessages; FetchMessage never auto commits.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Processor handles one decoded message, retrying internally as configured. A non nil
// error means every attempt failed; the consumer commits the offset regardless.
type Processor interface {
	Attempt(ctx context.Context, msg *model.TraceProcessedMessage) error
}

// ReaderFactory allows overriding reader creation for testing.
var ReaderFactory = func(cfg configuration.KafkaConfig) (Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no kafka topic configured")
	}
	if cfg.ConsumerGroupID == "" {
		return nil, errors.New("no kafka consumer group configured")
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.Username != "" || cfg.Password != "" {
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("kafka authentication enabled but missing credentials")
		}
		log.Infof("Setting up SASL PLAIN authentication for user %s", cfg.Username)
		dialer.SASLMechanism = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.ConsumerGroupID,
		Topic:   cfg.Topic,
		Dialer:  dialer,
		// A new consumer group starts from the earliest offset; an existing group
		// resumes from its committed position.
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	}), nil
}

// KafkaConsumer polls the trace topic and feeds decoded messages to the processor.
// Connection errors trigger a full reconnect with exponential backoff; after
// maxReconnectAttempts consecutive failures the consumer cools down for a fixed
// period and starts over optimistically.
type KafkaConsumer struct {
	cfg       configuration.KafkaConfig
	processor Processor
	metrics   *metrics.Metrics
	reader    Reader
	sleep     func(time.Duration)
}

func New(cfg configuration.KafkaConfig, processor Processor, m *metrics.Metrics) (*KafkaConsumer, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}

	log.Infof("Creating kafka consumer for topic %s, group %s, brokers %v",
		cfg.Topic, cfg.ConsumerGroupID, cfg.Brokers)
	reader, err := ReaderFactory(cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create kafka reader")
	}

	return &KafkaConsumer{
		cfg:       cfg,
		processor: processor,
		metrics:   m,
		reader:    reader,
		sleep:     time.Sleep,
	}, nil
}

// Run consumes messages until ctx is cancelled, then closes the underlying reader.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	log.Infof("Starting to consume messages from topic %s", c.cfg.Topic)

	reconnectAttempts := 0
	backoff := initialReconnectBackoff
	lastLogged := time.Now()
	numReceived := 0

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down kafka consumer")
			return c.Close()
		default:
		}

		if time.Since(lastLogged) > statsLogInterval {
			log.Infof("Received %d messages in the last %s", numReceived, statsLogInterval)
			numReceived = 0
			lastLogged = time.Now()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("Shutting down kafka consumer")
				return c.Close()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Nothing to read right now. Reaching the end of the partition looks
				// exactly the same, so neither is treated as a failure.
				continue
			}

			c.metrics.RecordKafkaConnectionError()
			if reconnectAttempts < maxReconnectAttempts {
				reconnectAttempts++
				log.WithError(err).Warnf("Consumer error, reconnecting (attempt %d, backoff %s)",
					reconnectAttempts, backoff)
				c.reconnect()
				c.sleep(backoff)
				backoff *= 2
				if backoff > maxReconnectBackoff {
					backoff = maxReconnectBackoff
				}
			} else {
				log.WithError(err).Errorf("Maximum reconnect attempts reached, will retry in %s",
					reconnectCooldown)
				c.sleep(reconnectCooldown)
				reconnectAttempts = 0
				backoff = initialReconnectBackoff
			}
			continue
		}

		reconnectAttempts = 0
		backoff = initialReconnectBackoff
		numReceived++

		c.handleMessage(ctx, msg)
	}
}

// reconnect closes the current reader and creates a fresh one. If recreation fails
// the closed reader is kept; the next fetch will fail and bring us back here.
func (c *KafkaConsumer) reconnect() {
	log.Info("Beginning reconnection process")
	if err := c.reader.Close(); err != nil {
		log.WithError(err).Warn("Error closing kafka reader during reconnect")
	}
	reader, err := ReaderFactory(c.cfg)
	if err != nil {
		log.WithError(err).Error("Failed to recreate kafka reader")
		return
	}
	c.reader = reader
	log.Info("Successfully reconnected to kafka with a new reader")
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, kmsg kafka.Message) {
	log.Infof("Received message at %s/%d/%d (%d bytes)",
		kmsg.Topic, kmsg.Partition, kmsg.Offset, len(kmsg.Value))

	msg, err := model.Decode(kmsg.Value)
	if err != nil {
		c.metrics.RecordKafkaMessageError(metrics.KafkaMessageErrorDeserialization)
		log.WithError(err).Error("Dropping message that could not be decoded")
		c.commit(ctx, kmsg)
		return
	}

	if err := c.processor.Attempt(ctx, msg); err != nil {
		log.WithError(err).
			WithField("traceId", msg.TraceID).
			Error("Failed to process message after max retries")
	} else {
		log.WithField("traceId", msg.TraceID).Info("Successfully processed message")
	}

	// Commit even after exhausted retries or a duplicate: redelivery would not make
	// the message processable and an uncommitted offset stalls the whole partition.
	c.commit(ctx, kmsg)
}

func (c *KafkaConsumer) commit(ctx context.Context, kmsg kafka.Message) {
	log.Infof("Committing offset %d", kmsg.Offset)
	if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
		log.WithError(err).Errorf("Failed to commit offset %d", kmsg.Offset)
	}
}

func (c *KafkaConsumer) Close() error {
	log.Info("Closing kafka consumer")
	return c.reader.Close()
}
