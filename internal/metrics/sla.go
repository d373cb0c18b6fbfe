// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slaFirstResponseP95 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoteflow_sla_first_response_p95_seconds",
		Help: "Rolling-window p95 of first-response latency",
	})

	slaQuoteSuccessRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoteflow_sla_quote_success_ratio",
		Help: "Rolling-window ratio of quote attempts that produced a priced result",
	})

	slaAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_sla_alerts_total",
		Help: "SLA alert events by metric and kind",
	}, []string{"metric", "kind"}) // kind=breach|recovery

	slaAlertActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoteflow_sla_alert_active",
		Help: "Whether an SLA alert is currently firing for a metric",
	}, []string{"metric"})
)

// SetFirstResponseP95 publishes the rolling first-response p95.
func SetFirstResponseP95(seconds float64) {
	slaFirstResponseP95.Set(seconds)
}

// SetQuoteSuccessRate publishes the rolling quote success ratio.
func SetQuoteSuccessRate(ratio float64) {
	slaQuoteSuccessRate.Set(ratio)
}

// RecordSlaAlert records a breach or recovery event and flips the active gauge.
func RecordSlaAlert(metric, kind string) {
	slaAlerts.WithLabelValues(metric, kind).Inc()
	if kind == "breach" {
		slaAlertActive.WithLabelValues(metric).Set(1)
	} else {
		slaAlertActive.WithLabelValues(metric).Set(0)
	}
}
