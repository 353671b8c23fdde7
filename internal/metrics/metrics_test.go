package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPopulate(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordPopulate("ephys_unit_stat", OutcomeDone, 20*time.Millisecond)
	m.RecordPopulate("ephys_unit_stat", OutcomeDone, 30*time.Millisecond)
	m.RecordPopulate("ephys_unit_stat", OutcomeSkipped, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.populateKeys.WithLabelValues("ephys_unit_stat", OutcomeDone)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.populateKeys.WithLabelValues("ephys_unit_stat", OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.populateDuration))
}

func TestRecordIngest(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordIngest("sessions", 3, 1, 0)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ingestTotal.WithLabelValues("sessions", OutcomeDone)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ingestTotal.WithLabelValues("sessions", OutcomeSkipped)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordPopulate("t", OutcomeDone, time.Second)
	m.RecordIngest("sessions", 1, 0, 0)
	m.RecordHTTP("GET", "/x", 200, time.Second)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.RecordHTTP("GET", "/api/units", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `ephyspipe_http_requests_total{method="GET",path="/api/units",status_code="200"} 1`), body)
}
