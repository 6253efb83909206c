// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Метрики платежей
	PaymentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Total number of payment intents created",
		},
		[]string{"currency", "purpose"},
	)
	PaymentsConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_confirmed_total",
			Help: "Total number of payments confirmed against a blockchain transfer",
		},
		[]string{"currency"},
	)
	PaymentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_expired_total",
			Help: "Total number of payments expired without a matching transfer",
		},
	)

	// Метрики блокчейн-клиентов
	ChainRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_requests_total",
			Help: "Total number of blockchain provider requests",
		},
		[]string{"currency", "status"},
	)
	ChainScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chain_scan_duration_seconds",
			Help: "Duration of a transfer scan against a blockchain provider",
		},
		[]string{"chain"},
	)

	// Метрики фоновых задач
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sweep_duration_seconds",
			Help: "Duration of background sweep runs",
		},
		[]string{"job"},
	)
	PostsArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posts_archived_total",
			Help: "Total number of posts moved to the archive",
		},
	)
)

// InitMetrics регистрирует метрики в реестре по умолчанию.
func InitMetrics() {
	// Регистрация метрик платежей
	prometheus.MustRegister(PaymentsCreatedTotal)
	prometheus.MustRegister(PaymentsConfirmedTotal)
	prometheus.MustRegister(PaymentsExpiredTotal)

	// Регистрация метрик блокчейн-клиентов
	prometheus.MustRegister(ChainRequestsTotal)
	prometheus.MustRegister(ChainScanDuration)

	// Регистрация метрик фоновых задач
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(PostsArchivedTotal)
}
