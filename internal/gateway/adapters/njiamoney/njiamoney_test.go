package njiamoney

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "njia_shared_secret"

func newAdapter(t *testing.T, endpoint string) gatewaydomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(gatewaydomain.AdapterConfig{
		Provider: "njiamoney",
		Config: map[string]any{
			"webhook_secret": testSecret,
			"api_key":        "njia_key",
			"endpoint":       endpoint,
		},
	})
	require.NoError(t, err)
	return adapter
}

func TestVerify_SharedToken(t *testing.T) {
	adapter := newAdapter(t, "")
	payload := []byte(`{}`)

	valid := http.Header{}
	valid.Set("X-Njia-Token", testSecret)
	assert.NoError(t, adapter.Verify(context.Background(), payload, valid))

	wrong := http.Header{}
	wrong.Set("X-Njia-Token", "guessed")
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, wrong), gatewaydomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), gatewaydomain.ErrInvalidSignature)
}

func TestParse_CollectionSuccess(t *testing.T) {
	adapter := newAdapter(t, "")

	event, err := adapter.Parse(context.Background(), []byte(`{
		"event": "collection.success",
		"event_id": "njev_1",
		"transaction_id": "njtx_1",
		"amount": 2500,
		"currency": "XOF",
		"msisdn": "221770000001",
		"timestamp": "2026-06-15T10:30:00Z",
		"metadata": {"subscription_id": "1879000000000002", "sale_kind": "subscription_read"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "njiamoney", event.Provider)
	assert.Equal(t, "njev_1", event.ProviderEventID)
	assert.Equal(t, "njtx_1", event.ProviderPaymentID)
	assert.Equal(t, gatewaydomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, int64(2500), event.Amount)
	assert.Equal(t, "XOF", event.Currency)
	assert.Equal(t, "subscription_read", event.SaleKind)
	require.NotNil(t, event.SubscriptionID)
	assert.Equal(t, "2026-06-15T10:30:00Z", event.OccurredAt.Format("2006-01-02T15:04:05Z"))
}

func TestParse_CollectionFailed(t *testing.T) {
	adapter := newAdapter(t, "")

	event, err := adapter.Parse(context.Background(), []byte(`{
		"event": "collection.failed",
		"event_id": "njev_2",
		"transaction_id": "njtx_2",
		"amount": 2500,
		"currency": "XOF",
		"reason": "WALLET_EMPTY",
		"timestamp": "2026-06-15T10:31:00Z"
	}`))
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.EventTypePaymentFailed, event.Type)
	assert.Equal(t, "WALLET_EMPTY", event.FailureCode)
}

func TestParse_Errors(t *testing.T) {
	adapter := newAdapter(t, "")

	_, err := adapter.Parse(context.Background(), []byte(`{"event": "kyc.updated", "event_id": "x", "transaction_id": "y"}`))
	assert.ErrorIs(t, err, gatewaydomain.ErrEventIgnored)

	_, err = adapter.Parse(context.Background(), []byte(`{"event": "collection.success"}`))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`--`))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidPayload)
}

func TestCharge_RejectedCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections", r.URL.Path)
		assert.Equal(t, "njia_key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"transaction_id": "njtx_9", "status": "rejected", "reason": "INVALID_MSISDN"}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	result, err := adapter.Charge(context.Background(), gatewaydomain.ChargeRequest{
		Reference:     "renewal-7-1",
		InstrumentRef: "221770000001",
		AmountMinor:   2500,
		Currency:      "XOF",
	})
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "INVALID_MSISDN", result.DeclineCode)
}

func TestCharge_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"transaction_id": "njtx_10", "status": "accepted"}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	result, err := adapter.Charge(context.Background(), gatewaydomain.ChargeRequest{
		Reference:     "renewal-7-2",
		InstrumentRef: "221770000001",
		AmountMinor:   2500,
		Currency:      "XOF",
	})
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "njtx_10", result.ProviderTxnID)
}
