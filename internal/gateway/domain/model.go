// Package domain defines the provider-neutral payment gateway contracts.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_adapter_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
	InvoiceID         *snowflake.ID
	SubscriptionID    *snowflake.ID
	AuthorID          *snowflake.ID
	WorkID            *snowflake.ID
	SaleKind          string
	FailureCode       string
}

// ProviderError wraps a charge failure with its retry classification.
// Transient failures (timeouts, provider 5xx) may be retried shortly;
// permanent ones (declines, invalid instruments) advance dunning instead.
type ProviderError struct {
	Provider  string
	Code      string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider failure worth retrying
// without consuming a dunning attempt.
func IsTransient(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient
	}
	return false
}
