// Package metrics содержит Prometheus-метрики симуляции и процесса.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fg"

// GameMetrics метрики цикла тиков
type GameMetrics struct {
	tickDuration prometheus.Histogram
	ticks        prometheus.Counter
	overruns     prometheus.Counter

	players   prometheus.Gauge
	cached    prometheus.Gauge
	loading   prometheus.Gauge
	instances prometheus.Gauge
	invites   prometheus.Gauge

	gameEvents   prometheus.Counter
	serverEvents prometheus.Counter
	persistence  *prometheus.CounterVec
}

// NewGameMetrics создаёт метрики и регистрирует их в reg
func NewGameMetrics(reg prometheus.Registerer) *GameMetrics {
	m := &GameMetrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Время обработки одного тика.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Число выполненных тиков.",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Тиков, не уложившихся в интервал.",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_active",
			Help:      "Игроков в игре.",
		}),
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_cached",
			Help:      "Записей вышедших игроков в кеше.",
		}),
		loading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_loading",
			Help:      "Игроков, ожидающих загрузки записи.",
		}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_loaded",
			Help:      "Загруженных инстансов карт.",
		}),
		invites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "friend_invites_pending",
			Help:      "Ожидающих ответа приглашений в друзья.",
		}),
		gameEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_events_total",
			Help:      "Событий, переданных игре.",
		}),
		serverEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_events_total",
			Help:      "Событий, отправленных транспорту.",
		}),
		persistence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_ops_total",
			Help:      "Завершённых операций хранилища.",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		m.tickDuration, m.ticks, m.overruns,
		m.players, m.cached, m.loading, m.instances, m.invites,
		m.gameEvents, m.serverEvents, m.persistence,
	)
	return m
}

// ObserveTick учитывает длительность тика относительно бюджета interval
func (m *GameMetrics) ObserveTick(d, interval time.Duration) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	if interval > 0 && d > interval {
		m.overruns.Inc()
	}
}

// ObserveEvents учитывает число событий, прошедших через канал за тик
func (m *GameMetrics) ObserveEvents(game, server int) {
	m.gameEvents.Add(float64(game))
	m.serverEvents.Add(float64(server))
}

// SetPopulation обновляет gauge населения
func (m *GameMetrics) SetPopulation(players, cached, loading, instances, invites int) {
	m.players.Set(float64(players))
	m.cached.Set(float64(cached))
	m.loading.Set(float64(loading))
	m.instances.Set(float64(instances))
	m.invites.Set(float64(invites))
}

// ObservePersistence учитывает завершение операции хранилища.
// Безопасен для вызова из воркеров.
func (m *GameMetrics) ObservePersistence(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persistence.WithLabelValues(op, result).Inc()
}
