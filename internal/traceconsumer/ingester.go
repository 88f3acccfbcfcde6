package traceconsumer

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/trace-survey-analysis/trace-consumer/internal/common"
	"github.com/trace-survey-analysis/trace-consumer/internal/common/app"
	"github.com/trace-survey-analysis/trace-consumer/internal/common/database"
	"github.com/trace-survey-analysis/trace-consumer/internal/common/health"
	"github.com/trace-survey-analysis/trace-consumer/internal/common/serve"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/configuration"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/consumer"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/processor"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/tracedb"
)

// Run wires up and runs the trace consumer: Kafka messages are decoded, deduplicated
// and written to postgres until a SIGTERM is received. The returned error is non nil
// when startup fails or teardown could not complete cleanly.
func Run(config *configuration.TraceConsumerConfiguration) error {
	log.Info("Trace consumer starting")
	m := metrics.Get()

	ctx := app.CreateContextWithShutdown()

	// Probe endpoints come up first so the orchestrator can see liveness immediately;
	// readiness stays false until everything below has initialized.
	appReady := health.NewStatusChecker("application")
	storeHealthy := health.NewStatusChecker("database")
	brokerHealthy := health.NewStatusChecker("kafka")
	readiness := health.NewMultiChecker(appReady, storeHealthy, brokerHealthy)

	mux := http.NewServeMux()
	health.SetupHttpMux(mux, readiness)
	probeServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HttpPort),
		Handler: mux,
	}
	go func() {
		log.Infof("Probe server listening on %d", config.HttpPort)
		if err := serve.ListenAndServe(ctx, probeServer); err != nil {
			log.WithError(err).Error("Probe server failure")
		}
	}()

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	// No ingestion is possible without the store, so a failure here is fatal.
	log.Info("Opening connection pool to postgres")
	db, err := database.OpenPgxPool(ctx, config.Postgres.Connection)
	if err != nil {
		return errors.WithMessage(err, "error opening connection to postgres")
	}
	defer db.Close()
	storeHealthy.MarkHealthy()

	traceDb := tracedb.New(db, m, config.Postgres.Schema)

	recentTraceIds, err := traceDb.GetRecentTraceIds(ctx, config.DedupWindowSize)
	if err != nil {
		log.WithError(err).Error("Failed to load previously processed trace ids")
		recentTraceIds = nil
	}
	log.Infof("Loaded %d previously processed trace ids", len(recentTraceIds))

	coordinator := processor.NewCoordinator(
		traceDb.Store, config.MaxRetries, config.RetryBackoff, recentTraceIds, m)

	kafkaConsumer, err := consumer.New(config.Kafka, coordinator, m)
	if err != nil {
		return errors.WithMessage(err, "error creating kafka consumer")
	}
	brokerHealthy.MarkHealthy()

	// The prober owns an independent read-only pool so a slow probe never contends
	// with the ingestion path.
	proberDb, err := database.OpenPgxPool(ctx, config.Postgres.Connection)
	if err != nil {
		return errors.WithMessage(err, "error opening health probe connection to postgres")
	}
	defer proberDb.Close()
	prober := newHealthProber(proberDb, storeHealthy, config.HealthCheckInterval, m)
	go prober.Run(ctx)

	appReady.MarkHealthy()
	log.Info("Trace consumer ready")

	if err := kafkaConsumer.Run(ctx); err != nil {
		return errors.WithMessage(err, "error during consumer shutdown")
	}
	log.Info("Shutdown complete")
	return nil
}
