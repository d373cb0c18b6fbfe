// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_outbound_messages_total",
		Help: "Outbound messages by kind and compliance verdict",
	}, []string{"kind", "verdict"}) // verdict=allow|warn|block
)

// RecordOutbound counts an outbound message attempt with its compliance verdict.
func RecordOutbound(kind, verdict string) {
	outboundMessages.WithLabelValues(kind, verdict).Inc()
}
