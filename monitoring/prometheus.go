// Package monitoring exports cache manager metrics to Prometheus.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep/cache"
)

const (
	namespace = "tierkeep"
	subsystem = "cache"
)

// Collector implements prometheus.Collector over a cache manager's metrics
// summary. Metrics are computed at scrape time, so the collector holds no
// state of its own.
type Collector struct {
	manager *cache.CacheManager
	logger  *zap.SugaredLogger

	hitsTotal       *prometheus.Desc
	missesTotal     *prometheus.Desc
	setsTotal       *prometheus.Desc
	deletesTotal    *prometheus.Desc
	evictionsTotal  *prometheus.Desc
	hitRatio        *prometheus.Desc
	size            *prometheus.Desc
	capacity        *prometheus.Desc
	lookupSeconds   *prometheus.Desc
	overallHitRatio *prometheus.Desc
	efficiency      *prometheus.Desc
}

// NewCollector builds a collector for manager.
func NewCollector(manager *cache.CacheManager, logger *zap.SugaredLogger) *Collector {
	labels := []string{"cache"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		manager: manager,
		logger:  logger,

		hitsTotal:       desc("hits_total", "Recorded cache hits", labels),
		missesTotal:     desc("misses_total", "Recorded cache misses", labels),
		setsTotal:       desc("sets_total", "Recorded cache sets", labels),
		deletesTotal:    desc("deletes_total", "Recorded cache deletes", labels),
		evictionsTotal:  desc("evictions_total", "Entries removed by eviction", labels),
		hitRatio:        desc("hit_ratio", "Recorded hit percentage per cache", labels),
		size:            desc("size", "Live entries per cache", labels),
		capacity:        desc("capacity", "Configured entry capacity per cache", labels),
		lookupSeconds:   desc("average_lookup_seconds", "Mean Get duration per cache", labels),
		overallHitRatio: desc("overall_hit_ratio", "Recorded hit percentage across all caches", nil),
		efficiency:      desc("efficiency", "Hit ratio relative to the configured target, capped at 100", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsTotal
	ch <- c.missesTotal
	ch <- c.setsTotal
	ch <- c.deletesTotal
	ch <- c.evictionsTotal
	ch <- c.hitRatio
	ch <- c.size
	ch <- c.capacity
	ch <- c.lookupSeconds
	ch <- c.overallHitRatio
	ch <- c.efficiency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	summary := c.manager.Metrics()

	for name, report := range summary.Caches {
		ch <- prometheus.MustNewConstMetric(c.hitsTotal, prometheus.CounterValue, float64(report.Stats.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.missesTotal, prometheus.CounterValue, float64(report.Stats.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.setsTotal, prometheus.CounterValue, float64(report.Stats.Sets), name)
		ch <- prometheus.MustNewConstMetric(c.deletesTotal, prometheus.CounterValue, float64(report.Stats.Deletes), name)
		ch <- prometheus.MustNewConstMetric(c.evictionsTotal, prometheus.CounterValue, float64(report.Metrics.Evictions), name)
		ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, report.Stats.HitRatio(), name)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(report.Metrics.Size), name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(report.Metrics.Capacity), name)
		ch <- prometheus.MustNewConstMetric(c.lookupSeconds, prometheus.GaugeValue, report.Metrics.AverageLookupTime.Seconds(), name)
	}

	ch <- prometheus.MustNewConstMetric(c.overallHitRatio, prometheus.GaugeValue, summary.HitRatio)
	ch <- prometheus.MustNewConstMetric(c.efficiency, prometheus.GaugeValue, summary.Efficiency)
}

// Handler serves a registry over HTTP in the standard exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
