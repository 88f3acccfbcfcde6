package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation       string
	KafkaMessageError string
)

const (
	DBOperationRead   DBOperation = "read"
	DBOperationInsert DBOperation = "insert"
	DBOperationPing   DBOperation = "ping"

	KafkaMessageErrorDeserialization KafkaMessageError = "deserialization"
	KafkaMessageErrorProcessing      KafkaMessageError = "processing"
)

const prefix = "trace_consumer_"

type Metrics struct {
	kafkaConnectionError prometheus.Counter
	kafkaMessageError    *prometheus.CounterVec
	dbErrorsCounter      *prometheus.CounterVec
	messagesProcessed    prometheus.Counter
	messagesDuplicate    prometheus.Counter
}

var m = New(prefix)

func Get() *Metrics {
	return m
}

func New(prefix string) *Metrics {
	return &Metrics{
		kafkaConnectionError: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "kafka_connection_errors",
			Help: "Number of Kafka connection errors",
		}),
		kafkaMessageError: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "kafka_message_errors",
			Help: "Number of Kafka message errors grouped by error type",
		}, []string{"error"}),
		dbErrorsCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "db_errors",
			Help: "Number of database errors grouped by database operation",
		}, []string{"operation"}),
		messagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "messages_processed",
			Help: "Number of messages successfully saved to the database",
		}),
		messagesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "messages_duplicate",
			Help: "Number of messages skipped because their trace id was already processed",
		}),
	}
}

func (m *Metrics) RecordKafkaConnectionError() {
	m.kafkaConnectionError.Inc()
}

func (m *Metrics) RecordKafkaMessageError(e KafkaMessageError) {
	m.kafkaMessageError.With(map[string]string{"error": string(e)}).Inc()
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordMessageProcessed() {
	m.messagesProcessed.Inc()
}

func (m *Metrics) RecordDuplicateMessage() {
	m.messagesDuplicate.Inc()
}
