// Package domain defines the append-only payment transaction ledger.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrTransactionMissing = errors.New("transaction_not_found")
)

// TransactionKind classifies the economic direction of a transaction.
type TransactionKind string

const (
	KindCharge TransactionKind = "charge"
	KindRefund TransactionKind = "refund"
	KindPayout TransactionKind = "payout"
)

// TransactionStatus is the provider-reported settlement state.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusSettled  TransactionStatus = "settled"
	StatusFailed   TransactionStatus = "failed"
	StatusReversed TransactionStatus = "reversed"
)

// SubjectType names what a transaction pays for.
type SubjectType string

const (
	SubjectInvoice      SubjectType = "invoice"
	SubjectSubscription SubjectType = "subscription"
	SubjectSale         SubjectType = "sale"
	SubjectPayout       SubjectType = "payout"
)

// SaleKind distinguishes revenue streams for royalty aggregation.
type SaleKind string

const (
	SaleKindDirect           SaleKind = "direct_sale"
	SaleKindSubscriptionRead SaleKind = "subscription_read"
)

// PaymentTransaction is one immutable ledger record. The pair
// (provider, provider_txn_id) is unique and drives ingest idempotency.
type PaymentTransaction struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	Provider       string            `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_provider_txn,priority:1"`
	ProviderTxnID  string            `json:"provider_txn_id" gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_provider_txn,priority:2"`
	Kind           TransactionKind   `json:"kind" gorm:"type:text;not null"`
	Status         TransactionStatus `json:"status" gorm:"type:text;not null;index"`
	AmountMinor    int64             `json:"amount_minor" gorm:"not null"`
	Currency       string            `json:"currency" gorm:"type:text;not null"`
	SubjectType    SubjectType       `json:"subject_type" gorm:"type:text;not null;index:idx_payment_transactions_subject,priority:1"`
	SubjectID      snowflake.ID      `json:"subject_id" gorm:"not null;index:idx_payment_transactions_subject,priority:2"`
	AuthorID       *snowflake.ID     `json:"author_id,omitempty" gorm:"index"`
	WorkID         *snowflake.ID     `json:"work_id,omitempty"`
	SaleKind       *SaleKind         `json:"sale_kind,omitempty" gorm:"type:text"`
	Payload        datatypes.JSON    `json:"payload" gorm:"type:jsonb"`
	OccurredAt     time.Time         `json:"occurred_at" gorm:"not null;index"`
	ReceivedAt     time.Time         `json:"received_at" gorm:"not null"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }
