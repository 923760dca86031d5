package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/splitkaro/billpipe/internal/models"
)

var (
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billpipe",
		Name:      "errors_total",
		Help:      "Errors logged to the monitor, by type, service and severity.",
	}, []string{"error_type", "service", "severity"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billpipe",
		Name:      "messages_processed_total",
		Help:      "Inbound messages processed, by conversation step.",
	}, []string{"step"})
)

func observeErrorEvent(ev models.ErrorEvent) {
	errorsTotal.WithLabelValues(string(ev.ErrorType), ev.Service, string(ev.Severity)).Inc()
}

// ObserveMessage records one processed inbound message for the step it was
// handled at.
func ObserveMessage(step models.ConversationStep) {
	messagesProcessed.WithLabelValues(string(step)).Inc()
}
