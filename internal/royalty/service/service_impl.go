package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/clock"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/observability/metrics"
	"github.com/mokanda/livraly/internal/royalty/domain"
	pkgdb "github.com/mokanda/livraly/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Ledger ledgerdomain.Service
	Config configdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	ledger ledgerdomain.Service
	config configdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("royalty.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		ledger: p.Ledger,
		config: p.Config,
	}
}

// sourceTxn is one settled ledger row feeding a royalty accrual.
type sourceTxn struct {
	AuthorID      snowflake.ID
	SaleKind      ledgerdomain.SaleKind
	Currency      string
	Kind          ledgerdomain.TransactionKind
	AmountMinor   int64
	Provider      string
	ProviderTxnID string
	OccurredAt    time.Time
}

type groupKey struct {
	AuthorID snowflake.ID
	SaleKind ledgerdomain.SaleKind
	Currency string
}

type accrual struct {
	basePerRate map[string]int64
	gross       int64
	refs        []string
	lastRate    string
}

// ComputePeriod aggregates one month of settled author sales. Refunds
// subtract from the gross base and the royalty rate is the one effective
// on each transaction's date, so recomputing an open period after late
// events lands on the same numbers.
const periodLayout = "2006-01"

func (s *Service) ComputePeriod(ctx context.Context, period string) ([]domain.AuthorRoyalty, error) {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}
	start = start.UTC()
	end := start.AddDate(0, 1, 0)

	var paidCount int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM author_royalties WHERE period = ? AND status = ?`,
		period,
		domain.RoyaltyStatusPaid,
	).Scan(&paidCount).Error; err != nil {
		return nil, err
	}
	if paidCount > 0 {
		return nil, fmt.Errorf("%w: period %s has paid royalties", domain.ErrImmutablePeriod, period)
	}

	var txns []sourceTxn
	if err := s.db.WithContext(ctx).Raw(
		`SELECT author_id, sale_kind, currency, kind, amount_minor, provider,
		        provider_txn_id, occurred_at
		 FROM payment_transactions
		 WHERE status = ? AND author_id IS NOT NULL AND sale_kind IS NOT NULL
		   AND kind IN (?, ?) AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY occurred_at ASC, id ASC`,
		ledgerdomain.StatusSettled,
		ledgerdomain.KindCharge,
		ledgerdomain.KindRefund,
		start,
		end,
	).Scan(&txns).Error; err != nil {
		return nil, err
	}

	groups := map[groupKey]*accrual{}
	rateCache := map[string]decimal.Decimal{}
	for _, txn := range txns {
		rate, err := s.rateFor(ctx, rateCache, txn.SaleKind, txn.OccurredAt)
		if err != nil {
			return nil, err
		}

		key := groupKey{AuthorID: txn.AuthorID, SaleKind: txn.SaleKind, Currency: txn.Currency}
		group, ok := groups[key]
		if !ok {
			group = &accrual{basePerRate: map[string]int64{}}
			groups[key] = group
		}
		signed := txn.AmountMinor
		if txn.Kind == ledgerdomain.KindRefund {
			signed = -signed
		}
		group.basePerRate[rate.String()] += signed
		group.gross += signed
		group.refs = append(group.refs, txn.Provider+":"+txn.ProviderTxnID)
		group.lastRate = rate.String()
	}

	now := s.clock.Now().UTC()
	var computed []domain.AuthorRoyalty
	for key, group := range groups {
		payable := int64(0)
		for rateRaw, base := range group.basePerRate {
			rate, err := decimal.NewFromString(rateRaw)
			if err != nil {
				return nil, err
			}
			payable += decimal.New(base, 0).Mul(rate).RoundBank(0).IntPart()
		}

		refs, err := json.Marshal(group.refs)
		if err != nil {
			return nil, err
		}
		row := domain.AuthorRoyalty{
			ID:            s.genID.Generate(),
			Ref:           uuid.NewString(),
			AuthorID:      key.AuthorID,
			Period:        period,
			SaleKind:      key.SaleKind,
			Currency:      key.Currency,
			GrossBase:     group.gross,
			RateApplied:   group.lastRate,
			PayableAmount: payable,
			SourceTxns:    refs,
			ComputedAt:    now,
		}
		if err := s.storeAccrual(ctx, &row, end); err != nil {
			return nil, err
		}
		metrics.Engine().IncRoyaltyComputed(string(row.Status))
		computed = append(computed, row)
	}

	s.log.Info("royalty period computed",
		zap.String("period", period),
		zap.Int("transactions", len(txns)),
		zap.Int("accruals", len(computed)),
	)
	return computed, nil
}

func (s *Service) rateFor(ctx context.Context, cache map[string]decimal.Decimal, saleKind ledgerdomain.SaleKind, asOf time.Time) (decimal.Decimal, error) {
	cacheKey := string(saleKind) + "@" + asOf.Format("2006-01-02")
	if rate, ok := cache[cacheKey]; ok {
		return rate, nil
	}
	rate, err := s.config.ResolveRate(ctx, configdomain.ConfigTypeRoyaltyRate, string(saleKind), asOf)
	if err != nil {
		return decimal.Decimal{}, err
	}
	cache[cacheKey] = rate
	return rate, nil
}

// storeAccrual replaces the unpaid accrual for its scope and settles the
// threshold decision: below threshold, earnings stay accrued and carry
// forward; at or above, the row and any prior accrued rows become payable.
func (s *Service) storeAccrual(ctx context.Context, row *domain.AuthorRoyalty, periodEnd time.Time) error {
	threshold, hasThreshold := s.payoutThreshold(ctx, row.Currency, periodEnd)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`DELETE FROM author_royalties
			 WHERE author_id = ? AND period = ? AND sale_kind = ? AND currency = ?
			   AND correction_seq = 0 AND status <> ?`,
			row.AuthorID,
			row.Period,
			row.SaleKind,
			row.Currency,
			domain.RoyaltyStatusPaid,
		).Error; err != nil {
			return err
		}

		var carry int64
		if err := tx.Raw(
			`SELECT COALESCE(SUM(payable_amount), 0) FROM author_royalties
			 WHERE author_id = ? AND currency = ? AND status = ?`,
			row.AuthorID,
			row.Currency,
			domain.RoyaltyStatusAccrued,
		).Scan(&carry).Error; err != nil {
			return err
		}

		row.Status = domain.RoyaltyStatusPayable
		if hasThreshold && carry+row.PayableAmount < threshold {
			row.Status = domain.RoyaltyStatusAccrued
		}

		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if row.Status == domain.RoyaltyStatusPayable && carry != 0 {
			// The threshold is crossed: release the carried accruals too.
			return tx.Exec(
				`UPDATE author_royalties SET status = ?
				 WHERE author_id = ? AND currency = ? AND status = ?`,
				domain.RoyaltyStatusPayable,
				row.AuthorID,
				row.Currency,
				domain.RoyaltyStatusAccrued,
			).Error
		}
		return nil
	})
}

func (s *Service) payoutThreshold(ctx context.Context, currency string, asOf time.Time) (int64, bool) {
	threshold, err := s.config.ResolveThreshold(ctx, configdomain.ConfigTypePayoutThreshold, currency, asOf)
	if err != nil {
		return 0, false
	}
	return threshold.AmountMinor, true
}

func (s *Service) GetSummary(ctx context.Context, authorID snowflake.ID, currency string, period string) (domain.Summary, error) {
	q := s.db.WithContext(ctx).Where("author_id = ? AND currency = ?", authorID, currency)
	if period != "" {
		if _, err := time.Parse(periodLayout, period); err != nil {
			return domain.Summary{}, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
		}
		q = q.Where("period = ?", period)
	}
	var rows []domain.AuthorRoyalty
	if err := q.Order("period ASC, correction_seq ASC").Find(&rows).Error; err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{AuthorID: authorID, Currency: currency, Rows: rows}
	for _, row := range rows {
		switch row.Status {
		case domain.RoyaltyStatusAccrued:
			summary.AccruedAmount += row.PayableAmount
		case domain.RoyaltyStatusPayable:
			summary.PayableAmount += row.PayableAmount
		case domain.RoyaltyStatusPaid:
			summary.PaidAmount += row.PayableAmount
		}
	}
	return summary, nil
}

// MarkPaid settles all payable rows under one payout reference. The payout
// lands in the ledger, so paying twice is caught by the same idempotency
// as any other transaction.
func (s *Service) MarkPaid(ctx context.Context, authorID snowflake.ID, currency string) (string, int64, error) {
	payoutRef := uuid.NewString()
	now := s.clock.Now().UTC()

	var amount int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.AuthorRoyalty
		if err := tx.Raw(
			`SELECT * FROM author_royalties
			 WHERE author_id = ? AND currency = ? AND status = ?`+pkgdb.ForUpdate(tx),
			authorID,
			currency,
			domain.RoyaltyStatusPayable,
		).Scan(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			amount += row.PayableAmount
		}
		if len(rows) == 0 || amount <= 0 {
			return domain.ErrNothingPayable
		}
		return tx.Exec(
			`UPDATE author_royalties
			 SET status = ?, payout_ref = ?, paid_at = ?
			 WHERE author_id = ? AND currency = ? AND status = ?`,
			domain.RoyaltyStatusPaid,
			payoutRef,
			now,
			authorID,
			currency,
			domain.RoyaltyStatusPayable,
		).Error
	})
	if err != nil {
		return "", 0, err
	}

	if _, err := s.ledger.Ingest(ctx, ledgerdomain.PaymentTransaction{
		Provider:      "payout",
		ProviderTxnID: payoutRef,
		Kind:          ledgerdomain.KindPayout,
		Status:        ledgerdomain.StatusSettled,
		AmountMinor:   amount,
		Currency:      currency,
		SubjectType:   ledgerdomain.SubjectPayout,
		SubjectID:     authorID,
		AuthorID:      &authorID,
		OccurredAt:    now,
	}); err != nil {
		s.log.Warn("payout ledger record failed",
			zap.String("payout_ref", payoutRef),
			zap.Error(err),
		)
	}

	s.log.Info("royalties paid",
		zap.Int64("author_id", int64(authorID)),
		zap.String("payout_ref", payoutRef),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)
	return payoutRef, amount, nil
}

// Correct appends an adjustment to a paid accrual. The original row never
// changes; the correction carries its own reference and points back.
func (s *Service) Correct(ctx context.Context, req domain.CorrectionRequest) (domain.AuthorRoyalty, error) {
	if req.DeltaGross == 0 {
		return domain.AuthorRoyalty{}, fmt.Errorf("%w: zero delta", domain.ErrInvalidCorrection)
	}

	var original domain.AuthorRoyalty
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM author_royalties WHERE ref = ? LIMIT 1`,
		req.Ref,
	).Scan(&original).Error; err != nil {
		return domain.AuthorRoyalty{}, err
	}
	if original.ID == 0 {
		return domain.AuthorRoyalty{}, domain.ErrRoyaltyNotFound
	}
	if original.Status != domain.RoyaltyStatusPaid {
		return domain.AuthorRoyalty{}, fmt.Errorf("%w: recompute the open period instead", domain.ErrInvalidCorrection)
	}

	rate, err := decimal.NewFromString(original.RateApplied)
	if err != nil {
		return domain.AuthorRoyalty{}, err
	}
	deltaPayable := decimal.New(req.DeltaGross, 0).Mul(rate).RoundBank(0).IntPart()

	correction := domain.AuthorRoyalty{
		ID:            s.genID.Generate(),
		Ref:           uuid.NewString(),
		AuthorID:      original.AuthorID,
		Period:        original.Period,
		SaleKind:      original.SaleKind,
		Currency:      original.Currency,
		GrossBase:     req.DeltaGross,
		RateApplied:   original.RateApplied,
		PayableAmount: deltaPayable,
		Status:        domain.RoyaltyStatusPayable,
		CorrectsRef:   &original.Ref,
		Note:          req.Note,
		ComputedAt:    s.clock.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Raw(
			`SELECT COALESCE(MAX(correction_seq), 0) FROM author_royalties
			 WHERE author_id = ? AND period = ? AND sale_kind = ? AND currency = ?`,
			original.AuthorID,
			original.Period,
			original.SaleKind,
			original.Currency,
		).Scan(&maxSeq).Error; err != nil {
			return err
		}
		correction.CorrectionSeq = maxSeq + 1
		return tx.Create(&correction).Error
	})
	if err != nil {
		return domain.AuthorRoyalty{}, err
	}

	s.log.Info("royalty correction recorded",
		zap.String("corrects_ref", original.Ref),
		zap.String("ref", correction.Ref),
		zap.Int64("delta_gross", req.DeltaGross),
		zap.Int64("delta_payable", deltaPayable),
	)
	return correction, nil
}
