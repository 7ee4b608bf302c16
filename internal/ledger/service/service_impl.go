package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/money"
	"github.com/mokanda/livraly/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

// Ingest stores the transaction exactly once. Re-ingesting the same
// (provider, provider_txn_id) pair returns the stored record unchanged.
func (s *Service) Ingest(ctx context.Context, txn domain.PaymentTransaction) (domain.IngestResult, error) {
	if err := validate(&txn); err != nil {
		metrics.Engine().IncLedgerIngest("rejected")
		return domain.IngestResult{}, err
	}

	txn.ID = s.genID.Generate()
	if txn.ReceivedAt.IsZero() {
		txn.ReceivedAt = time.Now().UTC()
	}

	inserted, err := s.repo.Insert(ctx, s.db, &txn)
	if err != nil {
		metrics.Engine().IncLedgerIngest("error")
		return domain.IngestResult{}, err
	}
	if inserted {
		metrics.Engine().IncLedgerIngest("inserted")
		s.log.Info("transaction ingested",
			zap.String("provider", txn.Provider),
			zap.String("provider_txn_id", txn.ProviderTxnID),
			zap.String("kind", string(txn.Kind)),
			zap.Int64("amount_minor", txn.AmountMinor),
			zap.String("currency", txn.Currency),
		)
		return domain.IngestResult{Transaction: txn}, nil
	}

	existing, err := s.repo.FindByProviderTxn(ctx, s.db, txn.Provider, txn.ProviderTxnID)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if existing == nil {
		return domain.IngestResult{}, fmt.Errorf("transaction %s/%s conflicted but was not found", txn.Provider, txn.ProviderTxnID)
	}
	metrics.Engine().IncLedgerIngest("duplicate")
	s.log.Info("duplicate transaction ignored",
		zap.String("provider", txn.Provider),
		zap.String("provider_txn_id", txn.ProviderTxnID),
	)
	return domain.IngestResult{Transaction: *existing, Duplicate: true}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PaymentTransaction, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrTransactionMissing
	}
	return item, nil
}

func (s *Service) Query(ctx context.Context, filter domain.Filter) ([]domain.PaymentTransaction, error) {
	return s.repo.Query(ctx, s.db, filter)
}

func validate(txn *domain.PaymentTransaction) error {
	txn.Provider = strings.ToLower(strings.TrimSpace(txn.Provider))
	txn.ProviderTxnID = strings.TrimSpace(txn.ProviderTxnID)
	if txn.Provider == "" || txn.ProviderTxnID == "" {
		return fmt.Errorf("%w: provider and provider_txn_id are required", domain.ErrInvalidTransaction)
	}
	if txn.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidTransaction)
	}
	if _, err := money.ParseCurrency(txn.Currency); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
	}
	switch txn.Kind {
	case domain.KindCharge, domain.KindRefund, domain.KindPayout:
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidTransaction, txn.Kind)
	}
	switch txn.Status {
	case domain.StatusPending, domain.StatusSettled, domain.StatusFailed, domain.StatusReversed:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransaction, txn.Status)
	}
	switch txn.SubjectType {
	case domain.SubjectInvoice, domain.SubjectSubscription, domain.SubjectSale, domain.SubjectPayout:
	default:
		return fmt.Errorf("%w: unknown subject type %q", domain.ErrInvalidTransaction, txn.SubjectType)
	}
	if txn.SaleKind != nil {
		switch *txn.SaleKind {
		case domain.SaleKindDirect, domain.SaleKindSubscriptionRead:
		default:
			return fmt.Errorf("%w: unknown sale kind %q", domain.ErrInvalidTransaction, *txn.SaleKind)
		}
	}
	if txn.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", domain.ErrInvalidTransaction)
	}
	if txn.Status == domain.StatusSettled && txn.SettledAt == nil {
		settled := txn.OccurredAt
		txn.SettledAt = &settled
	}
	return nil
}
