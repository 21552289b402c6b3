// Package metrics содержит метрики Prometheus шлюза доступа и обработчика платежей.
// Все методы безопасны для nil-получателя, поэтому сервисы можно создавать без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics хранит коллекторы сервиса.
type Metrics struct {
	// Решения шлюза по причине и источнику (token / store)
	Decisions *prometheus.CounterVec

	// Длительность чтения состояния из хранилища на пути шлюза
	StoreReadLatency prometheus.Histogram

	// Результаты приёма уведомлений: ack, reject_invalid_signature, reject_malformed, error
	Notifications *prometheus.CounterVec

	// Применённые и пропущенные события по типу
	EventsApplied *prometheus.CounterVec

	// Ошибки выпуска токенов
	MintFailures prometheus.Counter

	// Попадания и промахи кеша подписок
	CacheLookups *prometheus.CounterVec
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_gate_decisions_total",
			Help: "Access gate decisions by reason and source",
		}, []string{"reason", "source"}),

		StoreReadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paywall_gate_store_read_duration_seconds",
			Help:    "Duration of entitlement store reads on the gate fallback path",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_notifications_total",
			Help: "Payment notifications by ingest outcome",
		}, []string{"outcome"}),

		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_events_total",
			Help: "Payment events by type and whether they changed state",
		}, []string{"type", "applied"}),

		MintFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "paywall_token_mint_failures_total",
			Help: "Access tokens that could not be minted after a granted decision",
		}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_cache_lookups_total",
			Help: "Subscription cache lookups by result",
		}, []string{"result"}),
	}
}

// IncDecision учитывает решение шлюза.
func (m *Metrics) IncDecision(reason, source string) {
	if m != nil {
		m.Decisions.WithLabelValues(reason, source).Inc()
	}
}

// ObserveStoreRead учитывает длительность чтения из хранилища.
func (m *Metrics) ObserveStoreRead(d time.Duration) {
	if m != nil {
		m.StoreReadLatency.Observe(d.Seconds())
	}
}

// IncNotification учитывает результат приёма уведомления.
func (m *Metrics) IncNotification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

// IncEvent учитывает событие и то, изменило ли оно состояние.
func (m *Metrics) IncEvent(eventType string, applied bool) {
	if m != nil {
		label := "false"
		if applied {
			label = "true"
		}
		m.EventsApplied.WithLabelValues(eventType, label).Inc()
	}
}

// IncMintFailure учитывает неудачный выпуск токена.
func (m *Metrics) IncMintFailure() {
	if m != nil {
		m.MintFailures.Inc()
	}
}

// IncCacheLookup учитывает обращение к кешу: hit, miss или error.
func (m *Metrics) IncCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}
