package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Index keys shared with the run repository.
const (
	KeyRunIndexPassed = "uicase:runs:idx:passed"
	KeyRunIndexFailed = "uicase:runs:idx:failed"
)

type redisCollector struct {
	rdb       *redis.Client
	logger    *slog.Logger
	retention time.Duration

	storedDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, retention time.Duration, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:       rdb,
		logger:    logger,
		retention: retention,
		storedDesc: prometheus.NewDesc(
			"uicase_runs_stored",
			"Run records currently retained in redis, by outcome.",
			[]string{"outcome"},
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	minScore := "-inf"
	if c.retention > 0 {
		minScore = strconv.FormatInt(time.Now().Add(-c.retention).Unix(), 10)
	}
	pipe := c.rdb.Pipeline()
	passed := pipe.ZCount(ctx, KeyRunIndexPassed, minScore, "+inf")
	failed := pipe.ZCount(ctx, KeyRunIndexFailed, minScore, "+inf")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	emitGauge(ch, c.storedDesc, float64(passed.Val()), "passed")
	emitGauge(ch, c.storedDesc, float64(failed.Val()), "failed")
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, retention time.Duration, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, retention, logger))
	})
}
