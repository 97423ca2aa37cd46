package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courtbooking_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_bookings_total",
			Help: "Total number of booking mutations",
		},
		[]string{"action", "source"},
	)

	BookingConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_booking_conflicts_total",
			Help: "Total number of rejected bookings and rules that clashed with existing ones",
		},
		[]string{"kind"},
	)

	RulesAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_rules_applied_total",
			Help: "Total number of rule application runs",
		},
		[]string{"status"},
	)

	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_store_retries_total",
			Help: "Total number of retried store operations",
		},
		[]string{"reason"},
	)

	LifecycleRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_lifecycle_rejections_total",
			Help: "Total number of end-user calls rejected by the lifecycle state",
		},
		[]string{"state"},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_backups_total",
			Help: "Total number of backups and restores",
		},
		[]string{"kind", "status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbooking_notifications_total",
			Help: "Total number of published notifications",
		},
		[]string{"topic", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courtbooking_email_queue_length",
			Help: "Current length of email queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordBooking(action, source string) {
	BookingsTotal.WithLabelValues(action, source).Inc()
}

func RecordConflict(kind string) {
	BookingConflictsTotal.WithLabelValues(kind).Inc()
}

func RecordRulesApplied(status string) {
	RulesAppliedTotal.WithLabelValues(status).Inc()
}

func RecordRetry(reason string) {
	StoreRetriesTotal.WithLabelValues(reason).Inc()
}

func RecordLifecycleRejection(state string) {
	LifecycleRejectionsTotal.WithLabelValues(state).Inc()
}

func RecordBackup(kind, status string) {
	BackupsTotal.WithLabelValues(kind, status).Inc()
}

func RecordNotification(topic, status string) {
	NotificationsTotal.WithLabelValues(topic, status).Inc()
}
