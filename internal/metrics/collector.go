package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logsink"

// Collector 는 Metrics 카운터를 scrape 시점에 읽어 내보낸다.
// 카운터를 prometheus 타입으로 이중 관리하지 않기 위해 const metric 을 쓴다.
type Collector struct {
	m     *Metrics
	descs []*prometheus.Desc

	// extra 는 Metrics 밖에 있는 프로세스 전역 값 (cache eviction 등).
	extra []extraMetric
}

type extraMetric struct {
	desc *prometheus.Desc
	kind prometheus.ValueType
	fn   func() float64
}

func NewCollector(m *Metrics) *Collector {
	c := &Collector{m: m}
	for _, f := range m.fields() {
		c.descs = append(c.descs, prometheus.NewDesc(prometheus.BuildFQName(namespace, "", f.name), f.help, nil, nil))
	}
	return c
}

// WithCounterFunc 는 Metrics 에 없는 누적 값을 추가한다.
func (c *Collector) WithCounterFunc(name, help string, fn func() float64) *Collector {
	c.extra = append(c.extra, extraMetric{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		kind: prometheus.CounterValue,
		fn:   fn,
	})
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
	for _, e := range c.extra {
		ch <- e.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i, f := range c.m.fields() {
		kind := prometheus.CounterValue
		if f.gauge {
			kind = prometheus.GaugeValue
		}
		ch <- prometheus.MustNewConstMetric(c.descs[i], kind, float64(atomic.LoadInt64(f.ptr)))
	}
	for _, e := range c.extra {
		ch <- prometheus.MustNewConstMetric(e.desc, e.kind, e.fn())
	}
}
