// Package domain contains persistence models for invoicing.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrAccountNotFound   = errors.New("billing_account_not_found")
	ErrEmptyInvoice      = errors.New("invoice_requires_items")
	ErrCurrencyMismatch  = errors.New("invoice_currency_mismatch")
	ErrInvalidTransition = errors.New("invalid_invoice_transition")
	ErrSequenceConflict  = errors.New("invoice_number_conflict")
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusIssued  InvoiceStatus = "ISSUED"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
)

// AccountKind distinguishes who the account bills.
type AccountKind string

const (
	AccountKindReader AccountKind = "reader"
	AccountKindAuthor AccountKind = "author"
)

// BillingAccount owns a gapless invoice number sequence. Creating an
// invoice locks this row, so one account issues one number at a time.
type BillingAccount struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Kind        AccountKind  `gorm:"type:text;not null"`
	DisplayName string       `gorm:"type:text;not null"`
	Email       string       `gorm:"type:text"`
	Currency    string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingAccount) TableName() string { return "billing_accounts" }

// Invoice represents a generated invoice. Number is dense per account:
// the pair (account_id, number) is unique and numbers never skip.
type Invoice struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	AccountID   snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoices_account_number,priority:1"`
	Number      int64             `gorm:"not null;uniqueIndex:ux_invoices_account_number,priority:2"`
	Reference   string            `gorm:"type:text;not null"`
	Status      InvoiceStatus     `gorm:"type:text;not null;default:'ISSUED'"`
	Currency    string            `gorm:"type:text;not null"`
	TotalAmount int64             `gorm:"not null;default:0"`
	PaidAmount  int64             `gorm:"not null;default:0"`
	IssuedAt    *time.Time        `gorm:""`
	DueAt       *time.Time        `gorm:""`
	PaidAt      *time.Time        `gorm:""`
	VoidedAt    *time.Time        `gorm:""`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	InvoiceID   snowflake.ID  `gorm:"not null;index"`
	WorkID      *snowflake.ID `gorm:"index"`
	Description string        `gorm:"type:text"`
	Quantity    int64         `gorm:"not null"`
	UnitAmount  int64         `gorm:"not null"`
	Amount      int64         `gorm:"not null"`
	Currency    string        `gorm:"type:text;not null"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
