// Package metrics объявляет счётчики Prometheus, публикуемые на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksProcessed вебхуки по результату обработки:
	// granted, replay, failed_payment, grant_failed, malformed, unknown.
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalvpn_webhooks_processed_total",
		Help: "Processed payment webhooks by outcome.",
	}, []string{"outcome"})

	// PanelGrants обращения к панели за выдачей ключа по результату.
	PanelGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalvpn_panel_grants_total",
		Help: "Panel grant attempts by result.",
	}, []string{"result"})

	// TrialsIssued выданные триальные ключи.
	TrialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalvpn_trials_issued_total",
		Help: "Trial keys issued.",
	})

	// PaymentsCreated созданные платёжные намерения.
	PaymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalvpn_payments_created_total",
		Help: "Payment intents created.",
	})

	// OperatorAlerts опубликованные операторские алерты.
	OperatorAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalvpn_operator_alerts_total",
		Help: "Operator alerts published.",
	})
)
