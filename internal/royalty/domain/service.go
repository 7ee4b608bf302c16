package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Summary aggregates an author's standing in one currency.
type Summary struct {
	AuthorID      snowflake.ID
	Currency      string
	AccruedAmount int64
	PayableAmount int64
	PaidAmount    int64
	Rows          []AuthorRoyalty
}

// CorrectionRequest adjusts an already paid accrual. DeltaGross is the
// change to the gross base; the payable delta is derived with the rate of
// the corrected row.
type CorrectionRequest struct {
	Ref        string
	DeltaGross int64
	Note       string
}

type Service interface {
	// ComputePeriod aggregates settled ledger transactions for one
	// calendar month ("2026-06") into royalty rows. Re-running it
	// refreshes unpaid rows and refuses to touch paid ones.
	ComputePeriod(ctx context.Context, period string) ([]AuthorRoyalty, error)

	// GetSummary totals an author's rows in one currency, optionally
	// narrowed to a single period ("" means every period).
	GetSummary(ctx context.Context, authorID snowflake.ID, currency string, period string) (Summary, error)

	// MarkPaid settles every payable row for the author in one currency
	// under a single payout reference and records the payout in the
	// ledger.
	MarkPaid(ctx context.Context, authorID snowflake.ID, currency string) (payoutRef string, amount int64, err error)

	// Correct appends a correction row to a paid accrual.
	Correct(ctx context.Context, req CorrectionRequest) (AuthorRoyalty, error)
}
