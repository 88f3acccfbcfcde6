package configuration

import "time"

type KafkaConfig struct {
	// Bootstrap broker addresses.
	Brokers []string
	Topic   string
	// Consumer group identity. When set the broker assigns the committed offset (or
	// earliest for a new group); without a group the reader starts from latest.
	ConsumerGroupID string
	// SASL PLAIN credentials. Authentication is enabled only when both are present.
	Username string
	Password string
	// How long a single poll waits for a message before returning empty handed.
	PollTimeout time.Duration
}

type PostgresConfig struct {
	// Connection accepts libpq keywords, e.g. host, port, user, password, dbname.
	Connection map[string]string
	// Schema all trace tables live in.
	Schema string
}

type TraceConsumerConfiguration struct {
	// Port serving the kubernetes liveness and readiness probes.
	HttpPort    uint16
	MetricsPort uint16

	Kafka    KafkaConfig
	Postgres PostgresConfig

	// Number of retries after a failed processing attempt; a message is handed to the
	// handler at most MaxRetries+1 times.
	MaxRetries int
	// Flat delay between processing attempts.
	RetryBackoff time.Duration

	// Interval between store health probes. Halved (but never below 5s) after a
	// failed probe so recovery is noticed faster.
	HealthCheckInterval time.Duration

	// How many recently processed trace ids to preload into the dedup set at startup.
	DedupWindowSize int
}
