package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.SessionCreated()
	m.Reconciled("paid")
	m.Reconciled("paid")
	m.WebhookEvent("processed")
	m.BadgesApproved(2)
	m.BadgesApproved(0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsCreated))
	require.Equal(t, 2.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("paid")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.badgesApproved))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hrbonus_webhook_events_total")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionCreated()
	m.Reconciled("failed")
	m.WebhookEvent("ignored")
	m.BadgesApproved(1)
}
