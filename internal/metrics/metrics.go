package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grievanceportal/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the Beacon service
type Metrics struct {
	// WebSocket hub metrics
	HubConnections    *prometheus.GaugeVec
	HubMessages       *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
}

// NewMetrics registers the Beacon metrics on the service collector.
func NewMetrics(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		HubConnections: collector.NewGauge(
			"beacon_hub_connections",
			"Current group memberships held by the hub",
			[]string{"kind"},
		),
		HubMessages: collector.NewCounter(
			"beacon_hub_messages_total",
			"Frames delivered to local hub members",
			[]string{"direction"},
		),
		DeliveryFailures: collector.NewCounter(
			"beacon_delivery_failures_total",
			"Frames that could not be delivered or persisted",
			[]string{"stage"},
		),
		BroadcastsTotal: collector.NewCounter(
			"beacon_broadcasts_total",
			"Group broadcasts by envelope type",
			[]string{"type"},
		),
		NotificationsSent: collector.NewCounter(
			"beacon_notifications_sent_total",
			"Notification broadcasts by event type",
			[]string{"event_type"},
		),
		KafkaMessages: collector.NewCounter(
			"beacon_kafka_messages_total",
			"Domain events consumed from the event topic",
			[]string{"event_type", "status"},
		),
	}
}
