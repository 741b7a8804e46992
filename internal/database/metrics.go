package database

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector 导出 sql.DB 连接池统计，按需注册到指标 Registry
type PoolCollector struct {
	db *sql.DB

	connections  *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
	closed       *prometheus.Desc
}

// NewPoolCollector 创建连接池指标
func NewPoolCollector(db *sql.DB, namespace string) *PoolCollector {
	return &PoolCollector{
		db: db,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "connections"),
			"Database connections by state",
			[]string{"state"}, nil, // idle, in_use, open
		),
		waitCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "wait_count_total"),
			"Connections waited for",
			nil, nil,
		),
		waitDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "wait_duration_seconds_total"),
			"Time spent waiting for a connection",
			nil, nil,
		),
		closed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db", "closed_connections_total"),
			"Connections closed by the pool",
			[]string{"reason"}, nil, // max_idle, max_lifetime
		),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.waitCount
	ch <- c.waitDuration
	ch <- c.closed
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stats()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.OpenConnections), "open")
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, stats.WaitDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.closed, prometheus.CounterValue, float64(stats.MaxIdleClosed), "max_idle")
	ch <- prometheus.MustNewConstMetric(c.closed, prometheus.CounterValue, float64(stats.MaxLifetimeClosed), "max_lifetime")
}
