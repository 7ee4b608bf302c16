package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mokanda/livraly/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the transaction once. A conflicting (provider,
// provider_txn_id) pair leaves the existing row untouched and reports false.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, provider, provider_txn_id, kind, status, amount_minor, currency,
			subject_type, subject_id, author_id, work_id, sale_kind,
			payload, occurred_at, received_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_txn_id) DO NOTHING`,
		txn.ID,
		txn.Provider,
		txn.ProviderTxnID,
		txn.Kind,
		txn.Status,
		txn.AmountMinor,
		txn.Currency,
		txn.SubjectType,
		txn.SubjectID,
		txn.AuthorID,
		txn.WorkID,
		txn.SaleKind,
		txn.Payload,
		txn.OccurredAt,
		txn.ReceivedAt,
		txn.SettledAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByProviderTxn(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions
		 WHERE provider = ? AND provider_txn_id = ?
		 LIMIT 1`,
		provider,
		providerTxnID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_transactions WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Query(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.PaymentTransaction, error) {
	q := db.WithContext(ctx).Model(&domain.PaymentTransaction{})
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SubjectType != "" {
		q = q.Where("subject_type = ?", filter.SubjectType)
	}
	if filter.SubjectID != 0 {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.AuthorID != 0 {
		q = q.Where("author_id = ?", filter.AuthorID)
	}
	if filter.SaleKind != "" {
		q = q.Where("sale_kind = ?", filter.SaleKind)
	}
	if !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("occurred_at < ?", filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var items []domain.PaymentTransaction
	if err := q.Order("occurred_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// SumSettledForSubject nets settled charges against settled refunds for one
// subject in one currency. Pending, failed and reversed rows never count.
func (r *repo) SumSettledForSubject(ctx context.Context, db *gorm.DB, subjectType domain.SubjectType, subjectID snowflake.ID, currency string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE
			WHEN kind = 'refund' THEN -amount_minor
			ELSE amount_minor
		 END), 0)
		 FROM payment_transactions
		 WHERE subject_type = ? AND subject_id = ? AND currency = ?
		   AND status = 'settled' AND kind IN ('charge', 'refund')`,
		subjectType,
		subjectID,
		currency,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
