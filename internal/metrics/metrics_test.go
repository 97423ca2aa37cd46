package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/bookings/:date", "200", 0.5)

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/bookings/:date", "200"))
	assert.Equal(t, float64(1), count)

	metric := HTTPRequestDuration.WithLabelValues("GET", "/bookings/:date").(prometheus.Histogram)
	metric.Observe(0.5)
}

func TestRecordHTTPRequestMultiple(t *testing.T) {
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("PUT", "/bookings", "200", 0.1)
	RecordHTTPRequest("PUT", "/bookings", "200", 0.2)
	RecordHTTPRequest("PUT", "/bookings", "409", 0.05)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("PUT", "/bookings", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("PUT", "/bookings", "409")))
}

func TestRecordBooking(t *testing.T) {
	BookingsTotal.Reset()

	RecordBooking("created", "user")
	RecordBooking("created", "rule")
	RecordBooking("deleted", "user")

	assert.Equal(t, float64(1), testutil.ToFloat64(BookingsTotal.WithLabelValues("created", "user")))
	assert.Equal(t, float64(1), testutil.ToFloat64(BookingsTotal.WithLabelValues("created", "rule")))
	assert.Equal(t, float64(1), testutil.ToFloat64(BookingsTotal.WithLabelValues("deleted", "user")))
}

func TestRecordRetry(t *testing.T) {
	StoreRetriesTotal.Reset()

	RecordRetry("throttled")
	RecordRetry("throttled")
	RecordRetry("conflict")

	assert.Equal(t, float64(2), testutil.ToFloat64(StoreRetriesTotal.WithLabelValues("throttled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(StoreRetriesTotal.WithLabelValues("conflict")))
}

func TestRecordConflictAndLifecycle(t *testing.T) {
	BookingConflictsTotal.Reset()
	LifecycleRejectionsTotal.Reset()

	RecordConflict("booking")
	RecordLifecycleRejection("RETIRED")

	assert.Equal(t, float64(1), testutil.ToFloat64(BookingConflictsTotal.WithLabelValues("booking")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LifecycleRejectionsTotal.WithLabelValues("RETIRED")))
}

func TestRecordBackupAndNotification(t *testing.T) {
	BackupsTotal.Reset()
	NotificationsTotal.Reset()
	RulesAppliedTotal.Reset()

	RecordBackup("all", "success")
	RecordNotification("admin", "failed")
	RecordRulesApplied("success")

	assert.Equal(t, float64(1), testutil.ToFloat64(BackupsTotal.WithLabelValues("all", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(NotificationsTotal.WithLabelValues("admin", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(RulesAppliedTotal.WithLabelValues("success")))
}

func TestEmailQueueLength(t *testing.T) {
	EmailQueueLength.Set(10)
	assert.Equal(t, float64(10), testutil.ToFloat64(EmailQueueLength))

	EmailQueueLength.Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(EmailQueueLength))
}
