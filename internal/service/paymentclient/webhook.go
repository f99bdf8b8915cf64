package paymentclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Stripe-Signature"

	// Допустимое расхождение времени подписи
	SignatureTolerance = 5 * time.Minute
)

const (
	EventSessionCompleted           = "checkout.session.completed"
	EventSessionAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
	EventSessionAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	EventSessionExpired             = "checkout.session.expired"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidEvent     = errors.New("invalid webhook event")
	ErrEventIgnored     = errors.New("webhook event ignored")
)

// Событие провайдера, относящееся к сессии оплаты
type Event struct {
	ID      string
	Type    string
	Session string
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// VerifySignature проверяет заголовок вида "t=<unix>,v1=<hex>": HMAC-SHA256 от "t.payload"
func VerifySignature(payload []byte, header string, secret string, now time.Time) error {
	if secret == "" {
		return ErrInvalidSignature
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if diff := now.Sub(time.Unix(unix, 0)); diff > SignatureTolerance || diff < -SignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := Sign(payload, timestamp, secret)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign считает подпись v1 для payload
func Sign(payload []byte, timestamp string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

// ParseEvent разбирает событие. События не о сессиях оплаты - ErrEventIgnored.
func ParseEvent(payload []byte) (Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, ErrInvalidEvent
	}
	if strings.TrimSpace(event.ID) == "" {
		return Event{}, ErrInvalidEvent
	}

	switch event.Type {
	case EventSessionCompleted, EventSessionAsyncPaymentSucceed,
		EventSessionAsyncPaymentFailed, EventSessionExpired:
	default:
		return Event{ID: event.ID, Type: event.Type}, ErrEventIgnored
	}

	var object stripeObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil || object.ID == "" {
		return Event{}, ErrInvalidEvent
	}
	return Event{ID: event.ID, Type: event.Type, Session: object.ID}, nil
}
