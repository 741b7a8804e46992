package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 业务指标，注册在独立的 Registry 上
type Collector struct {
	registry *prometheus.Registry

	IDsAllocated   *prometheus.CounterVec
	TurnsAppended  *prometheus.CounterVec
	Tokens         *prometheus.CounterVec
	StreamFailures prometheus.Counter
	AuditFailures  prometheus.Counter
}

// NewCollector 创建并注册指标
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		IDsAllocated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ids_allocated_total",
				Help:      "Sequence numbers handed out by the identifier allocator",
			},
			[]string{"kind"}, // conversation, prompt
		),
		TurnsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_appended_total",
				Help:      "Messages appended to conversations",
			},
			[]string{"role"},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens recorded on appended messages",
			},
			[]string{"direction"}, // input, output
		),
		StreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Completion streams that failed or were abandoned",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit log writes that were dropped",
		}),
	}

	c.registry.MustRegister(c.IDsAllocated, c.TurnsAppended, c.Tokens, c.StreamFailures, c.AuditFailures)
	return c
}

// Registry 供导出使用
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveID 记录一次编号分配
func (c *Collector) ObserveID(kind string) {
	if c == nil {
		return
	}
	c.IDsAllocated.WithLabelValues(kind).Inc()
}

// ObserveTurn 记录一次消息追加
func (c *Collector) ObserveTurn(role string, tokens int, input bool) {
	if c == nil {
		return
	}
	c.TurnsAppended.WithLabelValues(role).Inc()
	direction := "output"
	if input {
		direction = "input"
	}
	c.Tokens.WithLabelValues(direction).Add(float64(tokens))
}

// ObserveStreamFailure 记录流式失败
func (c *Collector) ObserveStreamFailure() {
	if c == nil {
		return
	}
	c.StreamFailures.Inc()
}

// ObserveAuditFailure 记录审计写入失败
func (c *Collector) ObserveAuditFailure() {
	if c == nil {
		return
	}
	c.AuditFailures.Inc()
}
