package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/configuration"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/model"
)

var errBroker = errors.New("broker unreachable")

const validPayload = `{"traceId": "T1", "processedAt": "2024-09-01T00:00:00Z"}`

type fetchResult struct {
	msg kafka.Message
	err error
}

// fakeReader plays back a scripted sequence of fetch results. Once the script is
// exhausted it cancels the consumer's context so Run returns.
type fakeReader struct {
	script  []fetchResult
	pos     int
	commits []kafka.Message
	closes  int
	cancel  context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.pos >= len(f.script) {
		f.cancel()
		return kafka.Message{}, context.Canceled
	}
	result := f.script[f.pos]
	f.pos++
	return result.msg, result.err
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closes++
	return nil
}

type fakeProcessor struct {
	msgs []*model.TraceProcessedMessage
	err  error
}

func (p *fakeProcessor) Attempt(ctx context.Context, msg *model.TraceProcessedMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

// newTestConsumer builds a consumer whose reader factory always hands back the same
// fake, so reconnects keep the script position, and whose sleeps are recorded rather
// than slept.
func newTestConsumer(t *testing.T, script []fetchResult, proc Processor) (*KafkaConsumer, *fakeReader, *[]time.Duration, context.Context) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reader := &fakeReader{script: script, cancel: cancel}

	factoryCalls := 0
	originalFactory := ReaderFactory
	ReaderFactory = func(cfg configuration.KafkaConfig) (Reader, error) {
		factoryCalls++
		return reader, nil
	}
	t.Cleanup(func() { ReaderFactory = originalFactory })

	c, err := New(configuration.KafkaConfig{
		Brokers:         []string{"localhost:9092"},
		Topic:           "trace-survey-processed",
		ConsumerGroupID: "trace-consumer",
		PollTimeout:     time.Second,
	}, proc, metrics.Get())
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	c.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return c, reader, sleeps, ctx
}

func message(payload string) kafka.Message {
	return kafka.Message{
		Topic: "trace-survey-processed",
		Value: []byte(payload),
	}
}

func TestRun_ProcessesAndCommits(t *testing.T) {
	proc := &fakeProcessor{}
	c, reader, _, ctx := newTestConsumer(t, []fetchResult{
		{msg: message(validPayload)},
	}, proc)

	require.NoError(t, c.Run(ctx))

	require.Len(t, proc.msgs, 1)
	assert.Equal(t, "T1", proc.msgs[0].TraceID)
	require.Len(t, reader.commits, 1)
	assert.GreaterOrEqual(t, reader.closes, 1)
}

func TestRun_MalformedPayloadCommittedWithoutProcessing(t *testing.T) {
	proc := &fakeProcessor{}
	c, reader, sleeps, ctx := newTestConsumer(t, []fetchResult{
		{msg: message("{not json")},
	}, proc)

	require.NoError(t, c.Run(ctx))

	assert.Empty(t, proc.msgs, "malformed payloads must never reach the processor")
	assert.Len(t, reader.commits, 1, "offset must still be committed")
	assert.Empty(t, *sleeps)
}

func TestRun_ExhaustedRetriesStillCommitOnce(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("handler failed")}
	c, reader, _, ctx := newTestConsumer(t, []fetchResult{
		{msg: message(validPayload)},
	}, proc)

	require.NoError(t, c.Run(ctx))

	assert.Len(t, proc.msgs, 1)
	assert.Len(t, reader.commits, 1, "offset committed exactly once after terminal failure")
}

func TestRun_EmptyPollIsNotAnError(t *testing.T) {
	proc := &fakeProcessor{}
	c, reader, sleeps, ctx := newTestConsumer(t, []fetchResult{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{msg: message(validPayload)},
	}, proc)

	require.NoError(t, c.Run(ctx))

	assert.Empty(t, *sleeps, "an empty poll must not trigger backoff")
	assert.Equal(t, 1, reader.closes, "an empty poll must not trigger a reconnect")
	assert.Len(t, proc.msgs, 1)
}

func TestRun_BackoffGrowthAndResetOnSuccess(t *testing.T) {
	proc := &fakeProcessor{}
	c, _, sleeps, ctx := newTestConsumer(t, []fetchResult{
		{err: errBroker},
		{err: errBroker},
		{err: errBroker},
		{err: errBroker},
		{err: errBroker},
		{msg: message(validPayload)},
		{err: errBroker},
	}, proc)

	require.NoError(t, c.Run(ctx))

	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		// A successful receipt resets the delay.
		500 * time.Millisecond,
	}
	assert.Equal(t, expected, *sleeps)
	assert.Len(t, proc.msgs, 1)
}

func TestRun_BackoffIsCapped(t *testing.T) {
	script := make([]fetchResult, 8)
	for i := range script {
		script[i] = fetchResult{err: errBroker}
	}
	c, _, sleeps, ctx := newTestConsumer(t, script, &fakeProcessor{})

	require.NoError(t, c.Run(ctx))

	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	assert.Equal(t, expected, *sleeps)
}

func TestRun_CooldownAfterMaxReconnectAttempts(t *testing.T) {
	// 15 failures exhaust the reconnect budget; the 16th enters the cooldown branch
	// and the 17th starts over with the initial backoff.
	script := make([]fetchResult, 17)
	for i := range script {
		script[i] = fetchResult{err: errBroker}
	}
	c, reader, sleeps, ctx := newTestConsumer(t, script, &fakeProcessor{})

	require.NoError(t, c.Run(ctx))

	require.Len(t, *sleeps, 17)
	assert.Equal(t, 30*time.Second, (*sleeps)[15], "16th consecutive failure must cool down")
	assert.Equal(t, 500*time.Millisecond, (*sleeps)[16], "backoff must reset after cooldown")
	// 15 reconnects before the cooldown, one after it, plus the final shutdown close.
	assert.Equal(t, 17, reader.closes)
}
