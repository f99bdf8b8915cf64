package paymentclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const badgeID = "6f1c2a8e-4d3b-4f5a-9c7e-1b2d3e4f5a6b"

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "10000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, `["`+badgeID+`"]`, r.PostForm.Get("metadata[badge_ids]"))
		assert.Equal(t, "7", r.PostForm.Get("metadata[employee_id]"))
		writeJSON(w, http.StatusOK, `{"id":"cs_test_1","url":"https://checkout.test/pay/cs_test_1","status":"open","payment_status":"unpaid","amount_total":10000}`)
	}))
	defer srv.Close()

	client := NewPaymentClient(srv.URL, "sk_test", 0)
	session, err := client.CreateSession(context.Background(), CheckoutParams{
		Metadata: Metadata{
			Employee:     "7",
			EmployeeName: "Grace Hopper",
			Manager:      "3",
			Badges:       []string{badgeID},
			AmountTotal:  10000,
		},
		Currency:       "usd",
		Description:    "Badge bonus",
		SuccessURL:     "http://localhost/bonus/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "http://localhost/bonus/failed?session_id={CHECKOUT_SESSION_ID}",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", session.ID)
	require.Equal(t, "https://checkout.test/pay/cs_test_1", session.URL)
}

func TestGetSessionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_missing":
			writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
		case "/v1/checkout/sessions/cs_bad":
			writeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad"}}`)
		default:
			writeJSON(w, http.StatusInternalServerError, `{}`)
		}
	}))
	defer srv.Close()

	client := NewPaymentClient(srv.URL, "sk_test", 0)
	ctx := context.Background()

	_, err := client.GetSession(ctx, "cs_missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = client.GetSession(ctx, "cs_bad")
	require.ErrorIs(t, err, ErrProviderRejected)

	_, err = client.GetSession(ctx, "cs_down")
	require.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = client.GetSession(ctx, "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSessionRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"cs_test_1","status":"complete","payment_status":"paid","payment_intent":"pi_1","metadata":{"employee_id":"7"}}`)
	}))
	defer srv.Close()

	client := NewPaymentClient(srv.URL, "sk_test", 5*time.Second)
	session, err := client.GetSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, SessionStatusComplete, session.Status)
	require.Equal(t, PaymentStatusPaid, session.PaymentStatus)
	require.Equal(t, "pi_1", session.PaymentIntent)
	require.Equal(t, "7", session.Metadata[MetadataEmployee])
}

func TestGetSessionDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, `{"error":{"message":"No such checkout.session"}}`)
	}))
	defer srv.Close()

	client := NewPaymentClient(srv.URL, "sk_test", 5*time.Second)
	_, err := client.GetSession(context.Background(), "cs_test_1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, int32(1), calls.Load())
}

func TestExpireSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1/expire", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"id":"cs_test_1","status":"expired","payment_status":"unpaid"}`)
	}))
	defer srv.Close()

	session, err := NewPaymentClient(srv.URL, "sk_test", 0).ExpireSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	require.Equal(t, SessionStatusExpired, session.Status)
}

func TestProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewPaymentClient(addr, "sk_test", 0).CreateSession(context.Background(), CheckoutParams{})
	require.ErrorIs(t, err, ErrProviderUnavailable)
}
