package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/config"
)

// Checker runs periodic job health checks in the background. An alert type
// is sent once when it starts firing and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	last   *MetricsSnapshot
	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting job health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("job health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check collects one snapshot and sends the alerts that started firing
// since the previous check. It returns the alerts sent.
func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}
	log.Debug("monitoring: snapshot",
		zap.Int("jobs", snap.JobsTotal),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("degraded", snap.Degraded),
		zap.Int("stuck", len(snap.StuckJobs)),
	)

	alerts := c.alerter.Evaluate(snap)

	c.mu.Lock()
	c.last = snap
	active := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		active[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !active[t] {
			log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = active
	c.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_firing", len(alerts)),
		zap.Int("alerts_new", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}
