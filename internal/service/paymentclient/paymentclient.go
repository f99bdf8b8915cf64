package paymentclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// JSON ответ провайдера по сессии оплаты
type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// JSON ошибки провайдера
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var (
	ErrSessionNotFound     = errors.New("payment session not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected request")
)

// Параметры создания сессии оплаты
type CheckoutParams struct {
	Metadata       Metadata
	Currency       string
	Description    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type PaymentClient interface {
	CreateSession(ctx context.Context, params CheckoutParams) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ExpireSession(ctx context.Context, id string) (Session, error)
}

type paymentClient struct {
	http            *resty.Client
	retryMaxElapsed time.Duration
}

// NewPaymentClient создает клиент API hosted checkout.
// retryMaxElapsed ограничивает повторы чтения сессии, 0 - без повторов.
func NewPaymentClient(serviceAddr string, apiKey string, retryMaxElapsed time.Duration) PaymentClient {
	client := resty.New().
		SetBaseURL(serviceAddr).
		SetAuthToken(apiKey).
		SetTimeout(15 * time.Second)
	return &paymentClient{http: client, retryMaxElapsed: retryMaxElapsed}
}

func (client *paymentClient) CreateSession(ctx context.Context, params CheckoutParams) (Session, error) {
	form := make(map[string]string)
	form["mode"] = "payment"
	form["success_url"] = params.SuccessURL
	form["cancel_url"] = params.CancelURL
	form["client_reference_id"] = params.Metadata.Employee
	form["line_items[0][quantity]"] = "1"
	form["line_items[0][price_data][currency]"] = params.Currency
	form["line_items[0][price_data][unit_amount]"] = strconv.FormatInt(params.Metadata.AmountTotal, 10)
	form["line_items[0][price_data][product_data][name]"] = params.Description
	for key, value := range params.Metadata.Encode() {
		form["metadata["+key+"]"] = value
	}

	setreq := client.http.R().SetContext(ctx).SetFormData(form)
	if params.IdempotencyKey != "" {
		setreq.SetHeader("Idempotency-Key", params.IdempotencyKey)
	}
	return client.send(setreq, http.MethodPost, "/v1/checkout/sessions")
}

func (client *paymentClient) GetSession(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if client.retryMaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxElapsedTime = client.retryMaxElapsed
		policy = exp
	}

	var session Session
	operation := func() error {
		var err error
		session, err = client.send(client.http.R().SetContext(ctx), http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id))
		if err != nil && !errors.Is(err, ErrProviderUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return session, err
}

func (client *paymentClient) ExpireSession(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	return client.send(client.http.R().SetContext(ctx), http.MethodPost, "/v1/checkout/sessions/"+url.PathEscape(id)+"/expire")
}

func (client *paymentClient) send(setreq *resty.Request, method string, path string) (Session, error) {
	var session Session
	var apiErr apiError
	setreq.SetResult(&session).SetError(&apiErr)

	setresp, err := setreq.Execute(method, path)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch code := setresp.StatusCode(); {
	case code == http.StatusOK:
		return session, nil
	case code == http.StatusNotFound:
		return Session{}, ErrSessionNotFound
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return Session{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, code)
	default:
		return Session{}, fmt.Errorf("%w: status %d: %s", ErrProviderRejected, code, apiErr.Error.Message)
	}
}
