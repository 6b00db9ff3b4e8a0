package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// busCollector читает Stats шины в момент сбора метрик,
// поэтому фоновая горутина не нужна
type busCollector struct {
	bus EventBus

	published *prometheus.Desc
	consumed  *prometheus.Desc
	dropped   *prometheus.Desc
	inflight  *prometheus.Desc
}

// RegisterBusMetrics регистрирует метрики шины в reg.
// backend попадает в константную метку (memory или jetstream).
func RegisterBusMetrics(bus EventBus, backend string, reg prometheus.Registerer) error {
	labels := prometheus.Labels{"backend": backend}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("fg", "eventbus", name), help, nil, labels)
	}
	return reg.Register(&busCollector{
		bus:       bus,
		published: desc("published_total", "Опубликованные события жизненного цикла."),
		consumed:  desc("consumed_total", "События, доставленные подписчикам."),
		dropped:   desc("dropped_total", "События, потерянные при переполнении очереди."),
		inflight:  desc("inflight", "События, ещё не доставленные или не подтверждённые."),
	})
}

func (c *busCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.consumed
	ch <- c.dropped
	ch <- c.inflight
}

func (c *busCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.bus.Metrics()
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(s.Published))
	ch <- prometheus.MustNewConstMetric(c.consumed, prometheus.CounterValue, float64(s.Consumed))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(s.InFlight))
}
