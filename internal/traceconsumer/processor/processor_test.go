package processor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/model"
)

func testMessage(traceId string) *model.TraceProcessedMessage {
	return &model.TraceProcessedMessage{TraceID: traceId}
}

func newTestCoordinator(handler Handler, maxRetries int, seed []string) (*Coordinator, *[]time.Duration) {
	c := NewCoordinator(handler, maxRetries, time.Second, seed, metrics.Get())
	sleeps := &[]time.Duration{}
	c.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return c, sleeps
}

func TestAttempt_SuccessFirstTry(t *testing.T) {
	invocations := 0
	c, sleeps := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		invocations++
		return nil
	}, 3, nil)

	err := c.Attempt(context.Background(), testMessage("T1"))
	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
	assert.Empty(t, *sleeps)
	assert.True(t, c.IsProcessed("T1"))
}

func TestAttempt_RetryBound(t *testing.T) {
	invocations := 0
	handlerErr := errors.New("database unavailable")
	c, _ := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		invocations++
		return handlerErr
	}, 3, nil)

	err := c.Attempt(context.Background(), testMessage("T1"))
	require.Error(t, err)
	assert.Equal(t, handlerErr, err)
	assert.Equal(t, 4, invocations, "handler should be invoked maxRetries+1 times")
	assert.False(t, c.IsProcessed("T1"))
}

func TestAttempt_FlatBackoffBetweenAttempts(t *testing.T) {
	c, sleeps := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		return errors.New("boom")
	}, 2, nil)

	_ = c.Attempt(context.Background(), testMessage("T1"))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps,
		"delay between attempts should be flat, with no sleep before the first attempt")
}

func TestAttempt_RecoversOnLaterAttempt(t *testing.T) {
	invocations := 0
	c, _ := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		invocations++
		if invocations < 3 {
			return errors.New("transient")
		}
		return nil
	}, 3, nil)

	err := c.Attempt(context.Background(), testMessage("T1"))
	require.NoError(t, err)
	assert.Equal(t, 3, invocations)
	assert.True(t, c.IsProcessed("T1"))
}

func TestAttempt_DuplicateShortCircuits(t *testing.T) {
	invocations := 0
	c, _ := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		invocations++
		return nil
	}, 3, nil)

	require.NoError(t, c.Attempt(context.Background(), testMessage("T1")))
	require.NoError(t, c.Attempt(context.Background(), testMessage("T1")))
	assert.Equal(t, 1, invocations, "duplicate must report success without invoking the handler")
}

func TestCoordinator_SeededFromStore(t *testing.T) {
	invocations := 0
	c, _ := newTestCoordinator(func(ctx context.Context, msg *model.TraceProcessedMessage) error {
		invocations++
		return nil
	}, 3, []string{"seen-1", "seen-2"})

	assert.True(t, c.IsProcessed("seen-1"))
	assert.True(t, c.IsProcessed("seen-2"))
	assert.False(t, c.IsProcessed("new"))

	require.NoError(t, c.Attempt(context.Background(), testMessage("seen-1")))
	assert.Equal(t, 0, invocations)

	require.NoError(t, c.Attempt(context.Background(), testMessage("new")))
	assert.Equal(t, 1, invocations)
}
