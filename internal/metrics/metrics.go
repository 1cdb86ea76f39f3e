// Package metrics содержит Prometheus-метрики ядра сверки заказов, оплат и остатков.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StockMovements считает изменения остатков по причине.
	StockMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_movements_total",
			Help: "Total number of committed stock movements.",
		},
		[]string{"reason"},
	)

	// StockRejections считает отклонённые изменения остатков.
	StockRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_rejections_total",
			Help: "Total number of rejected stock mutations.",
		},
		[]string{"operation", "error"},
	)

	// Reconciliations считает исходы сверки платежей по источнику события.
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Total number of payment reconciliation decisions.",
		},
		[]string{"source", "outcome"},
	)

	// GatewayDuration измеряет длительность вызовов платёжных шлюзов.
	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway", "operation"},
	)

	// Webhooks считает входящие вебхуки.
	Webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Total number of payment webhooks received.",
		},
		[]string{"gateway", "outcome"},
	)

	// Alerts считает уведомления о запасах, включая подавленные дедупликацией.
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_alerts_total",
			Help: "Total number of stock alerts raised or deduplicated.",
		},
		[]string{"type", "result"},
	)

	// MailJobs считает исходы задач отправки писем.
	MailJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_jobs_total",
			Help: "Total number of outbound mail jobs by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register регистрирует метрики в указанном реестре один раз.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			StockMovements,
			StockRejections,
			Reconciliations,
			GatewayDuration,
			Webhooks,
			Alerts,
			MailJobs,
		)
	})
}
