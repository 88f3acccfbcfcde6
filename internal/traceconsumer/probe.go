package traceconsumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/trace-survey-analysis/trace-consumer/internal/common/health"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
)

const minProbeInterval = 5 * time.Second

// healthProber periodically pings the store and updates the database health flag.
// After a failed probe the next one is scheduled sooner so recovery is noticed fast.
type healthProber struct {
	db       *pgxpool.Pool
	status   *health.StatusChecker
	interval time.Duration
	metrics  *metrics.Metrics
}

func newHealthProber(db *pgxpool.Pool, status *health.StatusChecker, interval time.Duration, m *metrics.Metrics) *healthProber {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &healthProber{
		db:       db,
		status:   status,
		interval: interval,
		metrics:  m,
	}
}

func (p *healthProber) Run(ctx context.Context) {
	log.Infof("Database health probe started, interval %s", p.interval)
	for {
		interval := p.interval
		if err := p.db.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("Database health probe stopped")
				return
			}
			log.WithError(err).Error("Database health probe failed")
			p.metrics.RecordDBError(metrics.DBOperationPing)
			p.status.MarkUnhealthy()
			interval = p.interval / 2
			if interval < minProbeInterval {
				interval = minProbeInterval
			}
		} else {
			p.status.MarkHealthy()
		}

		select {
		case <-ctx.Done():
			log.Info("Database health probe stopped")
			return
		case <-time.After(interval):
		}
	}
}
