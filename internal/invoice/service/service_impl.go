package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mokanda/livraly/internal/clock"
	"github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/money"
	pkgdb "github.com/mokanda/livraly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// createRetries bounds how often Create re-runs after losing a number race.
const createRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	LedgerRepo ledgerdomain.Repository
	Clock      clock.Clock
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledgerRepo ledgerdomain.Repository
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		ledgerRepo: p.LedgerRepo,
		clock:      p.Clock,
	}
}

func (s *Service) CreateAccount(ctx context.Context, account domain.BillingAccount) (domain.BillingAccount, error) {
	if strings.TrimSpace(account.DisplayName) == "" {
		return domain.BillingAccount{}, fmt.Errorf("%w: display name is required", domain.ErrAccountNotFound)
	}
	currency, err := money.ParseCurrency(account.Currency)
	if err != nil {
		return domain.BillingAccount{}, err
	}
	account.Currency = string(currency)
	switch account.Kind {
	case domain.AccountKindReader, domain.AccountKindAuthor:
	default:
		account.Kind = domain.AccountKindReader
	}
	account.ID = s.genID.Generate()
	account.CreatedAt = s.clock.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return domain.BillingAccount{}, err
	}
	return account, nil
}

// Create validates, numbers and issues an invoice in one transaction. The
// billing account row is locked so numbers stay dense under concurrency;
// losing a conflicting insert anyway is retried a few times.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Invoice, error) {
	if err := validateCreate(req); err != nil {
		return domain.Invoice{}, err
	}

	var invoice domain.Invoice
	var err error
	for attempt := 0; attempt < createRetries; attempt++ {
		invoice, err = s.createOnce(ctx, req)
		if err == nil {
			return invoice, nil
		}
		if !errors.Is(err, domain.ErrSequenceConflict) {
			return domain.Invoice{}, err
		}
		s.log.Warn("invoice number conflict, retrying",
			zap.Int64("account_id", int64(req.AccountID)),
			zap.Int("attempt", attempt+1),
		)
	}
	return domain.Invoice{}, err
}

func (s *Service) createOnce(ctx context.Context, req domain.CreateRequest) (domain.Invoice, error) {
	now := s.clock.Now().UTC()
	var invoice domain.Invoice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.BillingAccount
		res := tx.Raw(
			`SELECT * FROM billing_accounts WHERE id = ?`+pkgdb.ForUpdate(tx),
			req.AccountID,
		).Scan(&account)
		if res.Error != nil {
			return res.Error
		}
		if account.ID == 0 {
			return domain.ErrAccountNotFound
		}
		if account.Currency != req.Currency {
			return fmt.Errorf("%w: account is %s, request is %s", domain.ErrCurrencyMismatch, account.Currency, req.Currency)
		}

		var next int64
		if err := tx.Raw(
			`SELECT COALESCE(MAX(number), 0) + 1 FROM invoices WHERE account_id = ?`,
			req.AccountID,
		).Scan(&next).Error; err != nil {
			return err
		}

		var total int64
		items := make([]domain.InvoiceItem, 0, len(req.Items))
		invoiceID := s.genID.Generate()
		for _, in := range req.Items {
			amount := in.Quantity * in.UnitAmount
			total += amount
			items = append(items, domain.InvoiceItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoiceID,
				WorkID:      in.WorkID,
				Description: in.Description,
				Quantity:    in.Quantity,
				UnitAmount:  in.UnitAmount,
				Amount:      amount,
				Currency:    in.Currency,
				CreatedAt:   now,
			})
		}

		issued := now
		invoice = domain.Invoice{
			ID:          invoiceID,
			AccountID:   req.AccountID,
			Number:      next,
			Reference:   fmt.Sprintf("LIV-%d-%06d", req.AccountID, next),
			Status:      domain.InvoiceStatusIssued,
			Currency:    req.Currency,
			TotalAmount: total,
			IssuedAt:    &issued,
			DueAt:       req.DueAt,
			Metadata:    datatypes.JSONMap(req.Metadata),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrSequenceConflict
			}
			return err
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("invoice issued",
		zap.Int64("invoice_id", int64(invoice.ID)),
		zap.Int64("account_id", int64(invoice.AccountID)),
		zap.Int64("number", invoice.Number),
		zap.Int64("total", invoice.TotalAmount),
		zap.String("currency", invoice.Currency),
	)
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Invoice, []domain.InvoiceItem, error) {
	var invoice domain.Invoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ? LIMIT 1`, id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, nil, err
	}
	if invoice.ID == 0 {
		return nil, nil, domain.ErrInvoiceNotFound
	}

	var items []domain.InvoiceItem
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &invoice, items, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Invoice, error) {
	q := s.db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.AccountID != 0 {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var invoices []domain.Invoice
	if err := q.Order("created_at DESC, id DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ApplyPayment recomputes the invoice's paid amount from the ledger. It is
// safe to call repeatedly; replayed webhooks do not double-count because
// the underlying ledger is idempotent.
func (s *Service) ApplyPayment(ctx context.Context, invoiceID snowflake.ID) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(
			`SELECT * FROM invoices WHERE id = ?`+pkgdb.ForUpdate(tx),
			invoiceID,
		).Scan(&invoice)
		if res.Error != nil {
			return res.Error
		}
		if invoice.ID == 0 {
			return domain.ErrInvoiceNotFound
		}
		if invoice.Status == domain.InvoiceStatusVoid {
			return fmt.Errorf("%w: invoice is void", domain.ErrInvalidTransition)
		}

		paid, err := s.ledgerRepo.SumSettledForSubject(ctx, tx, ledgerdomain.SubjectInvoice, invoiceID, invoice.Currency)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		invoice.PaidAmount = paid
		invoice.UpdatedAt = now
		if paid >= invoice.TotalAmount && invoice.Status != domain.InvoiceStatusPaid {
			invoice.Status = domain.InvoiceStatusPaid
			invoice.PaidAt = &now
		}
		return tx.Model(&domain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"paid_amount": invoice.PaidAmount,
				"status":      invoice.Status,
				"paid_at":     invoice.PaidAt,
				"updated_at":  invoice.UpdatedAt,
			}).Error
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("payment applied",
		zap.Int64("invoice_id", int64(invoice.ID)),
		zap.Int64("paid_amount", invoice.PaidAmount),
		zap.String("status", string(invoice.Status)),
	)
	return invoice, nil
}

// MarkOverdue flips issued invoices whose due date passed. Returns how many
// rows changed.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND due_at IS NOT NULL AND due_at < ?`,
		domain.InvoiceStatusOverdue,
		s.clock.Now().UTC(),
		domain.InvoiceStatusIssued,
		asOf,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("invoices marked overdue", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Service) Void(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(
			`SELECT * FROM invoices WHERE id = ?`+pkgdb.ForUpdate(tx),
			id,
		).Scan(&invoice)
		if res.Error != nil {
			return res.Error
		}
		if invoice.ID == 0 {
			return domain.ErrInvoiceNotFound
		}
		switch invoice.Status {
		case domain.InvoiceStatusDraft, domain.InvoiceStatusIssued, domain.InvoiceStatusOverdue:
		default:
			return fmt.Errorf("%w: cannot void %s invoice", domain.ErrInvalidTransition, invoice.Status)
		}

		now := s.clock.Now().UTC()
		invoice.Status = domain.InvoiceStatusVoid
		invoice.VoidedAt = &now
		invoice.UpdatedAt = now
		return tx.Model(&domain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"status":     invoice.Status,
				"voided_at":  invoice.VoidedAt,
				"updated_at": invoice.UpdatedAt,
			}).Error
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("invoice voided", zap.Int64("invoice_id", int64(invoice.ID)))
	return invoice, nil
}

func validateCreate(req domain.CreateRequest) error {
	if _, err := money.ParseCurrency(req.Currency); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return domain.ErrEmptyInvoice
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitAmount < 0 {
			return fmt.Errorf("%w: invalid quantity or unit amount", domain.ErrEmptyInvoice)
		}
		if item.Currency != req.Currency {
			return fmt.Errorf("%w: item is %s, invoice is %s", domain.ErrCurrencyMismatch, item.Currency, req.Currency)
		}
	}
	return nil
}
