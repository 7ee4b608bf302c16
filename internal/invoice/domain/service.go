package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ItemInput is one requested invoice line.
type ItemInput struct {
	WorkID      *snowflake.ID
	Description string
	Quantity    int64
	UnitAmount  int64
	Currency    string
}

// CreateRequest creates and issues an invoice in one step.
type CreateRequest struct {
	AccountID snowflake.ID
	Currency  string
	Items     []ItemInput
	DueAt     *time.Time
	Metadata  map[string]any
}

type ListFilter struct {
	AccountID snowflake.ID
	Status    InvoiceStatus
	Limit     int
}

type Service interface {
	CreateAccount(ctx context.Context, account BillingAccount) (BillingAccount, error)
	Create(ctx context.Context, req CreateRequest) (Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, []InvoiceItem, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)

	// ApplyPayment recomputes the paid amount from settled ledger
	// transactions and transitions the invoice when fully covered.
	ApplyPayment(ctx context.Context, invoiceID snowflake.ID) (Invoice, error)

	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	Void(ctx context.Context, id snowflake.ID) (Invoice, error)
}
