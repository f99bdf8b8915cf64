package paymentclient

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func signatureHeader(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + Sign(payload, ts, secret)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	require.NoError(t, VerifySignature(payload, signatureHeader(payload, now), secret, now))

	// несколько подписей при ротации секрета
	header := "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=deadbeef," +
		"v1=" + Sign(payload, strconv.FormatInt(now.Unix(), 10), secret)
	require.NoError(t, VerifySignature(payload, header, secret, now))

	tests := []struct {
		name   string
		header string
		secret string
	}{
		{"empty header", "", secret},
		{"no signature", "t=" + strconv.FormatInt(now.Unix(), 10), secret},
		{"wrong secret", signatureHeader(payload, now), "whsec_other"},
		{"no secret configured", signatureHeader(payload, now), ""},
		{"tampered body", signatureHeader([]byte(`{"id":"evt_2"}`), now), secret},
		{"too old", signatureHeader(payload, now.Add(-10*time.Minute)), secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(payload, tt.header, tt.secret, now)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session"}}}`))
	require.NoError(t, err)
	require.Equal(t, Event{ID: "evt_1", Type: EventSessionCompleted, Session: "cs_test_1"}, event)

	event, err = ParseEvent([]byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`))
	require.ErrorIs(t, err, ErrEventIgnored)
	require.Equal(t, "evt_2", event.ID)

	_, err = ParseEvent([]byte(`{"type":"checkout.session.completed"}`))
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = ParseEvent([]byte(`{"id":"evt_3","type":"checkout.session.expired","data":{"object":{}}}`))
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = ParseEvent([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidEvent)
}
