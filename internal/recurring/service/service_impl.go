package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/clock"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	"github.com/mokanda/livraly/internal/money"
	"github.com/mokanda/livraly/internal/recurring/domain"
	pkgdb "github.com/mokanda/livraly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// transientRetryDelay schedules the next attempt after a provider
	// outage. These retries do not consume dunning attempts.
	transientRetryDelay = time.Hour

	// claimGuardDelay re-queues a claimed renewal whose charge never
	// reported an outcome, e.g. after a worker crash.
	claimGuardDelay = time.Hour

	// settlementGuardDelay resurfaces an accepted charge whose settlement
	// webhook never arrived. The re-attempt carries the same invoice
	// reference, so the provider dedups it against the pending charge.
	settlementGuardDelay = 24 * time.Hour

	// renewalInvoiceGrace is how long the reader has to settle a renewal
	// invoice before it can go overdue.
	renewalInvoiceGrace = 7 * 24 * time.Hour

	defaultMaxAttempts = 3
)

var defaultRetrySchedule = []int{1, 3, 7}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Invoice invoicedomain.Service
	Config  configdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	invoice invoicedomain.Service
	config  configdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("recurring.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		invoice: p.Invoice,
		config:  p.Config,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Subscription, error) {
	if req.AccountID == 0 || strings.TrimSpace(req.PlanName) == "" || strings.TrimSpace(req.InstrumentRef) == "" {
		return domain.Subscription{}, domain.ErrInvalidSubscription
	}
	if req.AmountMinor <= 0 {
		return domain.Subscription{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidSubscription)
	}
	if _, err := money.ParseCurrency(req.Currency); err != nil {
		return domain.Subscription{}, err
	}
	switch req.Frequency {
	case domain.FrequencyMonthly, domain.FrequencyQuarterly, domain.FrequencyAnnual:
	default:
		return domain.Subscription{}, fmt.Errorf("%w: unknown frequency %q", domain.ErrInvalidSubscription, req.Frequency)
	}

	now := s.clock.Now().UTC()
	sub := domain.Subscription{
		ID:                 s.genID.Generate(),
		AccountID:          req.AccountID,
		PlanName:           strings.TrimSpace(req.PlanName),
		Provider:           strings.ToLower(strings.TrimSpace(req.Provider)),
		InstrumentRef:      strings.TrimSpace(req.InstrumentRef),
		AmountMinor:        req.AmountMinor,
		Currency:           req.Currency,
		Frequency:          req.Frequency,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   req.Frequency.NextPeriodEnd(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.String("plan", sub.PlanName),
		zap.String("frequency", string(sub.Frequency)),
		zap.Time("current_period_end", sub.CurrentPeriodEnd),
	)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE id = ? LIMIT 1`, id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Subscription, error) {
	q := s.db.WithContext(ctx).Model(&domain.Subscription{})
	if filter.AccountID != 0 {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var subs []domain.Subscription
	if err := q.Order("created_at DESC, id DESC").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Service) Pause(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionStatusPaused, func(sub *domain.Subscription, now time.Time) {
		sub.PausedAt = &now
		sub.NextRetryAt = nil
	})
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	return s.transition(ctx, id, domain.SubscriptionStatusActive, func(sub *domain.Subscription, now time.Time) {
		sub.PausedAt = nil
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	sub, err := s.transition(ctx, id, domain.SubscriptionStatusCanceled, func(sub *domain.Subscription, now time.Time) {
		sub.CanceledAt = &now
		sub.NextRetryAt = nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	s.voidPendingInvoice(ctx, &sub)
	return sub, nil
}

// ClaimDueRenewals marks due subscriptions pending and issues their
// renewal invoices. Each claimed row gets a guard retry time so a crashed
// worker's claims resurface.
func (s *Service) ClaimDueRenewals(ctx context.Context, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.clock.Now().UTC()

	var claimed []domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`SELECT * FROM subscriptions
			 WHERE status = ? AND current_period_end <= ?
			 ORDER BY current_period_end ASC, id ASC
			 LIMIT ?`+pkgdb.ForUpdateSkipLocked(tx),
			domain.SubscriptionStatusActive,
			now,
			limit,
		).Scan(&claimed).Error; err != nil {
			return err
		}
		guard := now.Add(claimGuardDelay)
		for i := range claimed {
			claimed[i].Status = domain.SubscriptionStatusRenewalPending
			claimed[i].NextRetryAt = &guard
			claimed[i].UpdatedAt = now
			if err := tx.Exec(
				`UPDATE subscriptions
				 SET status = ?, next_retry_at = ?, updated_at = ?
				 WHERE id = ?`,
				domain.SubscriptionStatusRenewalPending,
				guard,
				now,
				claimed[i].ID,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range claimed {
		if err := s.issueRenewalInvoice(ctx, &claimed[i]); err != nil {
			s.log.Warn("renewal invoice issue failed",
				zap.Int64("subscription_id", int64(claimed[i].ID)),
				zap.Error(err),
			)
		}
	}
	return claimed, nil
}

func (s *Service) issueRenewalInvoice(ctx context.Context, sub *domain.Subscription) error {
	if sub.PendingInvoiceID != nil {
		return nil
	}
	now := s.clock.Now().UTC()
	due := now.Add(renewalInvoiceGrace)
	invoice, err := s.invoice.Create(ctx, invoicedomain.CreateRequest{
		AccountID: sub.AccountID,
		Currency:  sub.Currency,
		DueAt:     &due,
		Items: []invoicedomain.ItemInput{{
			Description: fmt.Sprintf("%s renewal (%s)", sub.PlanName, strings.ToLower(string(sub.Frequency))),
			Quantity:    1,
			UnitAmount:  sub.AmountMinor,
			Currency:    sub.Currency,
		}},
		Metadata: map[string]any{"subscription_id": sub.ID.String()},
	})
	if err != nil {
		return err
	}
	sub.PendingInvoiceID = &invoice.ID
	return s.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET pending_invoice_id = ?, updated_at = ? WHERE id = ?`,
		invoice.ID,
		now,
		sub.ID,
	).Error
}

// ClaimDueRetries returns subscriptions whose retry time arrived and pushes
// their guard time forward so concurrent workers skip them.
func (s *Service) ClaimDueRetries(ctx context.Context, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.clock.Now().UTC()

	var claimed []domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			`SELECT * FROM subscriptions
			 WHERE status IN (?, ?) AND next_retry_at IS NOT NULL AND next_retry_at <= ?
			 ORDER BY next_retry_at ASC, id ASC
			 LIMIT ?`+pkgdb.ForUpdateSkipLocked(tx),
			domain.SubscriptionStatusRenewalPending,
			domain.SubscriptionStatusPastDue,
			now,
			limit,
		).Scan(&claimed).Error; err != nil {
			return err
		}
		guard := now.Add(claimGuardDelay)
		for i := range claimed {
			claimed[i].NextRetryAt = &guard
			if err := tx.Exec(
				`UPDATE subscriptions SET next_retry_at = ?, updated_at = ? WHERE id = ?`,
				guard,
				now,
				claimed[i].ID,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range claimed {
		if claimed[i].PendingInvoiceID == nil {
			if err := s.issueRenewalInvoice(ctx, &claimed[i]); err != nil {
				s.log.Warn("renewal invoice issue failed",
					zap.Int64("subscription_id", int64(claimed[i].ID)),
					zap.Error(err),
				)
			}
		}
	}
	return claimed, nil
}

func (s *Service) RecordChargeAccepted(ctx context.Context, id snowflake.ID, providerTxnID string) error {
	now := s.clock.Now().UTC()
	s.log.Info("charge accepted, awaiting settlement",
		zap.Int64("subscription_id", int64(id)),
		zap.String("provider_txn_id", providerTxnID),
	)
	// Settlement confirmation arrives by webhook. Back the retry time off
	// to the reconciliation guard rather than clearing it, so a lost
	// webhook cannot strand the subscription in RENEWAL_PENDING.
	guard := now.Add(settlementGuardDelay)
	return s.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET next_retry_at = ?, updated_at = ? WHERE id = ?`,
		guard,
		now,
		id,
	).Error
}

// RecordChargeFailure is the dunning step. Attempt counts only move on
// permanent failures, and the retry schedule plus attempt limit come from
// versioned configuration with built-in defaults.
func (s *Service) RecordChargeFailure(ctx context.Context, id snowflake.ID, transient bool) (domain.Subscription, error) {
	now := s.clock.Now().UTC()
	schedule, maxAttempts := s.dunningPolicy(ctx, now)

	var sub domain.Subscription
	canceled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(
			`SELECT * FROM subscriptions WHERE id = ?`+pkgdb.ForUpdate(tx),
			id,
		).Scan(&sub)
		if res.Error != nil {
			return res.Error
		}
		if sub.ID == 0 {
			return domain.ErrSubscriptionNotFound
		}
		switch sub.Status {
		case domain.SubscriptionStatusRenewalPending, domain.SubscriptionStatusPastDue:
		default:
			return fmt.Errorf("%w: charge failure in status %s", domain.ErrInvalidTransition, sub.Status)
		}

		if transient {
			retry := now.Add(transientRetryDelay)
			sub.NextRetryAt = &retry
			sub.UpdatedAt = now
			return tx.Exec(
				`UPDATE subscriptions SET next_retry_at = ?, updated_at = ? WHERE id = ?`,
				retry,
				now,
				sub.ID,
			).Error
		}

		sub.FailedAttempts++
		sub.UpdatedAt = now
		// The budget covers the initial charge plus maxAttempts retries.
		// Each of the first maxAttempts failures schedules a retry and
		// leaves the subscription past due; only a failure with no retry
		// remaining cancels.
		if sub.FailedAttempts > maxAttempts {
			sub.Status = domain.SubscriptionStatusCanceled
			sub.CanceledAt = &now
			sub.NextRetryAt = nil
			canceled = true
			return tx.Exec(
				`UPDATE subscriptions
				 SET status = ?, failed_attempts = ?, canceled_at = ?, next_retry_at = NULL, updated_at = ?
				 WHERE id = ?`,
				sub.Status,
				sub.FailedAttempts,
				now,
				now,
				sub.ID,
			).Error
		}

		delayDays := schedule[len(schedule)-1]
		if sub.FailedAttempts-1 < len(schedule) {
			delayDays = schedule[sub.FailedAttempts-1]
		}
		retry := now.AddDate(0, 0, delayDays)
		sub.Status = domain.SubscriptionStatusPastDue
		sub.NextRetryAt = &retry
		return tx.Exec(
			`UPDATE subscriptions
			 SET status = ?, failed_attempts = ?, next_retry_at = ?, updated_at = ?
			 WHERE id = ?`,
			sub.Status,
			sub.FailedAttempts,
			retry,
			now,
			sub.ID,
		).Error
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	if canceled {
		s.voidPendingInvoice(ctx, &sub)
		s.log.Info("subscription canceled after exhausting retries",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Int("failed_attempts", sub.FailedAttempts),
		)
	} else {
		s.log.Info("charge failed",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Bool("transient", transient),
			zap.Int("failed_attempts", sub.FailedAttempts),
		)
	}
	return sub, nil
}

func (s *Service) MarkRenewed(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	now := s.clock.Now().UTC()

	var sub domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(
			`SELECT * FROM subscriptions WHERE id = ?`+pkgdb.ForUpdate(tx),
			id,
		).Scan(&sub)
		if res.Error != nil {
			return res.Error
		}
		if sub.ID == 0 {
			return domain.ErrSubscriptionNotFound
		}
		switch sub.Status {
		case domain.SubscriptionStatusRenewalPending, domain.SubscriptionStatusPastDue:
		default:
			return fmt.Errorf("%w: renewal settled in status %s", domain.ErrInvalidTransition, sub.Status)
		}

		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = sub.Frequency.NextPeriodEnd(sub.CurrentPeriodStart)
		sub.Status = domain.SubscriptionStatusActive
		sub.FailedAttempts = 0
		sub.NextRetryAt = nil
		sub.PendingInvoiceID = nil
		sub.UpdatedAt = now
		return tx.Exec(
			`UPDATE subscriptions
			 SET status = ?, current_period_start = ?, current_period_end = ?,
			     failed_attempts = 0, next_retry_at = NULL, pending_invoice_id = NULL,
			     updated_at = ?
			 WHERE id = ?`,
			sub.Status,
			sub.CurrentPeriodStart,
			sub.CurrentPeriodEnd,
			now,
			sub.ID,
		).Error
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription renewed",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.Time("current_period_end", sub.CurrentPeriodEnd),
	)
	return sub, nil
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, target domain.SubscriptionStatus, mutate func(*domain.Subscription, time.Time)) (domain.Subscription, error) {
	now := s.clock.Now().UTC()

	var sub domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Raw(
			`SELECT * FROM subscriptions WHERE id = ?`+pkgdb.ForUpdate(tx),
			id,
		).Scan(&sub)
		if res.Error != nil {
			return res.Error
		}
		if sub.ID == 0 {
			return domain.ErrSubscriptionNotFound
		}
		if !isTransitionAllowed(sub.Status, target) {
			return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, sub.Status, target)
		}

		sub.Status = target
		sub.UpdatedAt = now
		mutate(&sub, now)
		return tx.Exec(
			`UPDATE subscriptions
			 SET status = ?, paused_at = ?, canceled_at = ?, next_retry_at = ?, updated_at = ?
			 WHERE id = ?`,
			sub.Status,
			sub.PausedAt,
			sub.CanceledAt,
			sub.NextRetryAt,
			now,
			sub.ID,
		).Error
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

func (s *Service) voidPendingInvoice(ctx context.Context, sub *domain.Subscription) {
	if sub.PendingInvoiceID == nil {
		return
	}
	if _, err := s.invoice.Void(ctx, *sub.PendingInvoiceID); err != nil {
		if !errors.Is(err, invoicedomain.ErrInvalidTransition) && !errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			s.log.Warn("pending invoice void failed",
				zap.Int64("invoice_id", int64(*sub.PendingInvoiceID)),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) dunningPolicy(ctx context.Context, asOf time.Time) ([]int, int) {
	schedule := defaultRetrySchedule
	if resolved, err := s.config.ResolveSchedule(ctx, configdomain.ConfigTypeDunning, "retry_schedule", asOf); err == nil && len(resolved) > 0 {
		schedule = resolved
	}
	maxAttempts := defaultMaxAttempts
	if resolved, err := s.config.ResolveInt(ctx, configdomain.ConfigTypeDunning, "max_attempts", asOf); err == nil && resolved > 0 {
		maxAttempts = int(resolved)
	}
	return schedule, maxAttempts
}

func isTransitionAllowed(current, target domain.SubscriptionStatus) bool {
	switch current {
	case domain.SubscriptionStatusActive:
		return target == domain.SubscriptionStatusPaused || target == domain.SubscriptionStatusCanceled
	case domain.SubscriptionStatusRenewalPending, domain.SubscriptionStatusPastDue:
		// Pausing mid-dunning halts retries but keeps the attempt count.
		return target == domain.SubscriptionStatusPaused || target == domain.SubscriptionStatusCanceled
	case domain.SubscriptionStatusPaused:
		return target == domain.SubscriptionStatusActive || target == domain.SubscriptionStatusCanceled
	default:
		return false
	}
}
