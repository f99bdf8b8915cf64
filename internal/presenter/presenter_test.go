package presenter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iurnickita/hrbonus/internal/auth"
	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/service"
)

type stubOutcomes struct {
	outcome   model.Outcome
	err       error
	caller    string
	cancelled bool
}

func (s *stubOutcomes) Outcome(_ context.Context, caller string, _ string) (model.Outcome, error) {
	s.caller = caller
	return s.outcome, s.err
}

func (s *stubOutcomes) Cancel(_ context.Context, caller string, _ string) (model.Outcome, error) {
	s.caller = caller
	s.cancelled = true
	return s.outcome, s.err
}

func get(p Presenter, success bool, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set(auth.HeaderUserCodeKey, "3")
	w := httptest.NewRecorder()
	if success {
		p.Success(w, r)
	} else {
		p.Failure(w, r)
	}
	return w
}

func TestMissingSession(t *testing.T) {
	stub := &stubOutcomes{}
	p := NewPresenter(stub, "/dashboard", zaptest.NewLogger(t))

	w := get(p, true, "/bonus/success")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "No payment session")
	require.Contains(t, body, `href="/dashboard"`)
	require.Contains(t, body, `content="10;url=/dashboard"`)
	require.Empty(t, stub.caller)
}

func TestPaidOutcome(t *testing.T) {
	stub := &stubOutcomes{outcome: model.Outcome{
		Session:       "cs_test_1",
		EmployeeName:  "Grace Hopper",
		Amount:        10000,
		Currency:      "usd",
		BadgeCount:    2,
		TransactionID: "pi_1",
		Timestamp:     time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Status:        model.OutcomeStatusPaid,
	}}
	p := NewPresenter(stub, "/dashboard", zaptest.NewLogger(t))

	w := get(p, true, "/bonus/success?session_id=cs_test_1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "3", stub.caller)
	body := w.Body.String()
	require.Contains(t, body, "Bonus paid")
	require.Contains(t, body, "Grace Hopper")
	require.Contains(t, body, "100.00 USD")
	require.Contains(t, body, "pi_1")
	require.Contains(t, body, "<dd>2</dd>")
	require.Contains(t, body, "Thu, 01 May 2025 12:00:00 UTC")
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestFailedOutcome(t *testing.T) {
	stub := &stubOutcomes{outcome: model.Outcome{
		Session:      "cs_test_2",
		EmployeeName: "<script>alert(1)</script>",
		Amount:       2550,
		Currency:     "usd",
		BadgeCount:   1,
		Status:       model.OutcomeStatusFailed,
		Reason:       "checkout session expired",
	}}
	p := NewPresenter(stub, "/dashboard", zaptest.NewLogger(t))

	w := get(p, false, "/bonus/failed?session_id=cs_test_2")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "Payment failed")
	require.Contains(t, body, "25.50 USD")
	require.Contains(t, body, "checkout session expired")
	require.Contains(t, body, `content="15;url=/dashboard"`)
	require.NotContains(t, body, "<script>")
	require.True(t, stub.cancelled)
}

func TestCancelledCheckout(t *testing.T) {
	stub := &stubOutcomes{outcome: model.Outcome{
		Session:      "cs_test_4",
		EmployeeName: "Ada",
		Amount:       7500,
		Currency:     "usd",
		BadgeCount:   1,
		Status:       model.OutcomeStatusFailed,
		Reason:       "checkout cancelled",
	}}
	p := NewPresenter(stub, "/dashboard", zaptest.NewLogger(t))

	w := get(p, false, "/bonus/failed?session_id=cs_test_4")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, stub.cancelled)
	require.Contains(t, body, "Payment failed")
	require.Contains(t, body, "checkout cancelled")
	require.NotContains(t, body, "being processed")

	// страница успеха сессию не закрывает
	stub.cancelled = false
	stub.outcome.Status = model.OutcomeStatusPending
	get(p, true, "/bonus/success?session_id=cs_test_4")
	require.False(t, stub.cancelled)
}

func TestPendingOutcome(t *testing.T) {
	stub := &stubOutcomes{outcome: model.Outcome{Session: "cs_test_3", Status: model.OutcomeStatusPending}}
	p := NewPresenter(stub, "/dashboard", zaptest.NewLogger(t))

	w := get(p, true, "/bonus/success?session_id=cs_test_3")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Payment is being processed")
}

func TestOutcomeErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{service.ErrSessionNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: timeout", service.ErrProviderUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: bad metadata", service.ErrReconciliation), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			p := NewPresenter(&stubOutcomes{err: tt.err}, "/dashboard", zaptest.NewLogger(t))
			w := get(p, true, "/bonus/success?session_id=cs_x")
			require.Equal(t, tt.code, w.Code)
			body := w.Body.String()
			require.Contains(t, body, "Payment could not be confirmed")
			require.Contains(t, body, `href="/dashboard"`)
		})
	}
}
