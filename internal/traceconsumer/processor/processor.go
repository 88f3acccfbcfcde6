package processor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/model"
)

// Handler persists one decoded trace message. A nil return marks the attempt as
// successful; any error counts as a failed attempt and may be retried.
type Handler func(ctx context.Context, msg *model.TraceProcessedMessage) error

// Coordinator deduplicates trace messages and drives bounded retry of the handler.
// The processed set is only ever touched by the consume loop, so it needs no locking.
type Coordinator struct {
	handler      Handler
	maxRetries   int
	retryBackoff time.Duration
	metrics      *metrics.Metrics
	processed    map[string]bool
	sleep        func(time.Duration)
}

// NewCoordinator creates a Coordinator seeded with trace ids already recorded in the
// store. The seed is a bounded recent window, not a full history: an id missing from
// the set may still exist in the store, which the save transaction handles itself.
func NewCoordinator(handler Handler, maxRetries int, retryBackoff time.Duration, seedTraceIds []string, m *metrics.Metrics) *Coordinator {
	processed := make(map[string]bool, len(seedTraceIds))
	for _, traceId := range seedTraceIds {
		processed[traceId] = true
	}
	return &Coordinator{
		handler:      handler,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		metrics:      m,
		processed:    processed,
		sleep:        time.Sleep,
	}
}

func (c *Coordinator) IsProcessed(traceId string) bool {
	return c.processed[traceId]
}

func (c *Coordinator) MarkProcessed(traceId string) {
	c.processed[traceId] = true
}

// Attempt processes one message, invoking the handler up to maxRetries+1 times with a
// flat delay between attempts. Duplicates short-circuit to success without invoking
// the handler at all. The returned error is the last handler error once all attempts
// are exhausted; the caller commits the offset either way, so an unprocessable
// message is surfaced in logs and metrics rather than redelivered forever.
func (c *Coordinator) Attempt(ctx context.Context, msg *model.TraceProcessedMessage) error {
	if c.IsProcessed(msg.TraceID) {
		log.Infof("Trace %s already processed, skipping", msg.TraceID)
		c.metrics.RecordDuplicateMessage()
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.WithField("traceId", msg.TraceID).
				Infof("Retrying message processing in %s (attempt %d)", c.retryBackoff, attempt)
			c.sleep(c.retryBackoff)
		}

		if err := c.handler(ctx, msg); err != nil {
			lastErr = err
			log.WithError(err).
				WithField("traceId", msg.TraceID).
				Errorf("Error processing message on attempt %d", attempt)
			continue
		}

		c.MarkProcessed(msg.TraceID)
		c.metrics.RecordMessageProcessed()
		return nil
	}

	c.metrics.RecordKafkaMessageError(metrics.KafkaMessageErrorProcessing)
	return lastErr
}
