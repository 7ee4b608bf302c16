package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// PaymentAdapter normalizes one provider's webhook and charge surface.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(config AdapterConfig) (PaymentAdapter, error)
}

// ChargeRequest asks a provider to collect a payment using a stored
// instrument reference.
type ChargeRequest struct {
	Reference      string
	InstrumentRef  string
	AmountMinor    int64
	Currency       string
	SubscriptionID snowflake.ID
	Description    string
}

// ChargeResult is the provider's synchronous answer. Settlement is still
// confirmed by webhook.
type ChargeResult struct {
	ProviderTxnID string
	Accepted      bool
	DeclineCode   string
}
