package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	AccountID     snowflake.ID
	PlanName      string
	Provider      string
	InstrumentRef string
	AmountMinor   int64
	Currency      string
	Frequency     Frequency
}

type ListFilter struct {
	AccountID snowflake.ID
	Status    SubscriptionStatus
	Limit     int
}

// Service owns the subscription lifecycle and the dunning state machine.
// Charging itself happens outside: the scheduler claims work here, calls
// the gateway, and reports the outcome back through the Record methods.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, filter ListFilter) ([]Subscription, error)

	Pause(ctx context.Context, id snowflake.ID) (Subscription, error)
	Resume(ctx context.Context, id snowflake.ID) (Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID) (Subscription, error)

	// ClaimDueRenewals moves due active subscriptions to RENEWAL_PENDING
	// and issues their renewal invoices. Claimed rows are skipped by
	// concurrent workers.
	ClaimDueRenewals(ctx context.Context, limit int) ([]Subscription, error)

	// ClaimDueRetries returns subscriptions whose retry time arrived.
	ClaimDueRetries(ctx context.Context, limit int) ([]Subscription, error)

	// RecordChargeAccepted notes the provider accepted the charge;
	// settlement still arrives by webhook.
	RecordChargeAccepted(ctx context.Context, id snowflake.ID, providerTxnID string) error

	// RecordChargeFailure advances dunning. Transient failures schedule a
	// short retry without consuming an attempt; permanent ones count, and
	// at the attempt limit the subscription cancels and its pending
	// invoice is voided.
	RecordChargeFailure(ctx context.Context, id snowflake.ID, transient bool) (Subscription, error)

	// MarkRenewed confirms settlement, advances the period and reopens
	// the subscription.
	MarkRenewed(ctx context.Context, id snowflake.ID) (Subscription, error)
}
