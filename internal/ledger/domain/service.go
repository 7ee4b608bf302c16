package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// IngestResult reports whether Ingest stored the transaction or found an
// earlier record with the same (provider, provider_txn_id).
type IngestResult struct {
	Transaction PaymentTransaction
	Duplicate   bool
}

// Filter narrows ledger queries. Zero values are ignored.
type Filter struct {
	Provider    string
	Kind        TransactionKind
	Status      TransactionStatus
	SubjectType SubjectType
	SubjectID   snowflake.ID
	AuthorID    snowflake.ID
	SaleKind    SaleKind
	From        time.Time
	To          time.Time
	Limit       int
}

// Repository persists transactions. The db handle is passed per call so
// services can run repository operations inside their own transactions.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) (bool, error)
	FindByProviderTxn(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (*PaymentTransaction, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	Query(ctx context.Context, db *gorm.DB, filter Filter) ([]PaymentTransaction, error)
	SumSettledForSubject(ctx context.Context, db *gorm.DB, subjectType SubjectType, subjectID snowflake.ID, currency string) (int64, error)
}

// Service validates and ingests transactions exactly once.
type Service interface {
	Ingest(ctx context.Context, txn PaymentTransaction) (IngestResult, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentTransaction, error)
	Query(ctx context.Context, filter Filter) ([]PaymentTransaction, error)
}
