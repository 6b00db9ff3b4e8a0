package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIMetrics метрики admin API: длительность по маршруту и классу ответа,
// запросы в работе и отказы в доступе к административным маршрутам
type APIMetrics struct {
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	denied   *prometheus.CounterVec
}

// NewPrometheusMiddleware регистрирует метрики в reg с префиксом namespace
func NewPrometheusMiddleware(namespace string, reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность запросов admin API.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "class"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы admin API в обработке.",
		}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_denied_total",
			Help:      "Запросы, отклонённые проверкой ключа администратора.",
		}, []string{"route"}),
	}
	reg.MustRegister(m.duration, m.inflight, m.denied)
	return m
}

// statusClass сворачивает код ответа до 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler возвращает gin.HandlerFunc для router.Use()
func (m *APIMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.inflight.Inc()
		defer m.inflight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		if code == http.StatusUnauthorized {
			m.denied.WithLabelValues(route).Inc()
		}
		m.duration.WithLabelValues(c.Request.Method, route, statusClass(code)).Observe(time.Since(start).Seconds())
	}
}

// RegisterMetricsEndpoint добавляет GET /metrics, отдающий метрики из g
func RegisterMetricsEndpoint(r *gin.Engine, g prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}
