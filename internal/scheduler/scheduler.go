package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mokanda/livraly/internal/clock"
	gatewaydomain "github.com/mokanda/livraly/internal/gateway/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	"github.com/mokanda/livraly/internal/observability/metrics"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	royaltydomain "github.com/mokanda/livraly/internal/royalty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	RecurringSvc recurringdomain.Service
	GatewaySvc   gatewaydomain.Service
	InvoiceSvc   invoicedomain.Service
	RoyaltySvc   royaltydomain.Service
	Config       Config `optional:"true"`
}

// Scheduler drives the periodic billing work: claiming due renewals and
// retries, charging them through the gateway, flagging overdue invoices
// and computing the previous month's royalties.
type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	recurringSvc recurringdomain.Service
	gatewaySvc   gatewaydomain.Service
	invoiceSvc   invoicedomain.Service
	royaltySvc   royaltydomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.RecurringSvc == nil || p.GatewaySvc == nil || p.InvoiceSvc == nil || p.RoyaltySvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler"),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		recurringSvc: p.RecurringSvc,
		gatewaySvc:   p.GatewaySvc,
		invoiceSvc:   p.InvoiceSvc,
		royaltySvc:   p.RoyaltySvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	engine := metrics.Engine()
	engine.IncJobRun(name)

	err := fn(ctx)
	engine.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		engine.IncJobError(name)
		s.log.Warn("job failed", zap.String("job", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"renewals", s.RenewalsJob},
		{"retries", s.RetriesJob},
		{"overdue_invoices", s.OverdueInvoicesJob},
		{"royalties", s.RoyaltiesJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		name, run := job.Name, job.Run
		err = errors.Join(err, s.runJob(parent, name, run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RenewalsJob claims due subscriptions and charges each through its
// provider. Outcomes feed back into dunning; settlement itself arrives
// later by webhook.
func (s *Scheduler) RenewalsJob(ctx context.Context) error {
	claimed, err := s.recurringSvc.ClaimDueRenewals(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.chargeClaimed(ctx, claimed)
}

// RetriesJob picks up subscriptions whose dunning retry time arrived.
func (s *Scheduler) RetriesJob(ctx context.Context) error {
	claimed, err := s.recurringSvc.ClaimDueRetries(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.chargeClaimed(ctx, claimed)
}

func (s *Scheduler) chargeClaimed(ctx context.Context, claimed []recurringdomain.Subscription) error {
	var errs error
	for _, sub := range claimed {
		if err := s.chargeSubscription(ctx, sub); err != nil {
			errs = errors.Join(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
		}
	}
	return errs
}

func (s *Scheduler) chargeSubscription(ctx context.Context, sub recurringdomain.Subscription) error {
	reference := fmt.Sprintf("sub-%d-%s", sub.ID, sub.CurrentPeriodEnd.UTC().Format("2006-01-02"))
	description := sub.PlanName
	if sub.PendingInvoiceID != nil {
		if inv, _, err := s.invoiceSvc.Get(ctx, *sub.PendingInvoiceID); err == nil {
			reference = inv.Reference
			description = fmt.Sprintf("%s (%s)", sub.PlanName, inv.Reference)
		}
	}

	result, err := s.gatewaySvc.Charge(ctx, sub.Provider, gatewaydomain.ChargeRequest{
		Reference:      reference,
		InstrumentRef:  sub.InstrumentRef,
		AmountMinor:    sub.AmountMinor,
		Currency:       sub.Currency,
		SubscriptionID: sub.ID,
		Description:    description,
	})
	if err != nil {
		transient := gatewaydomain.IsTransient(err)
		if _, recordErr := s.recurringSvc.RecordChargeFailure(ctx, sub.ID, transient); recordErr != nil {
			return errors.Join(err, recordErr)
		}
		s.log.Warn("charge failed",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.String("provider", sub.Provider),
			zap.Bool("transient", transient),
			zap.Error(err),
		)
		return nil
	}

	if !result.Accepted {
		if _, err := s.recurringSvc.RecordChargeFailure(ctx, sub.ID, false); err != nil {
			return err
		}
		s.log.Info("charge declined",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.String("provider", sub.Provider),
			zap.String("decline_code", result.DeclineCode),
		)
		return nil
	}
	return s.recurringSvc.RecordChargeAccepted(ctx, sub.ID, result.ProviderTxnID)
}

// OverdueInvoicesJob flags issued invoices whose due date passed.
func (s *Scheduler) OverdueInvoicesJob(ctx context.Context) error {
	count, err := s.invoiceSvc.MarkOverdue(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if count > 0 {
		s.log.Info("invoices marked overdue", zap.Int64("count", count))
	}
	return nil
}

// RoyaltiesJob recomputes the previous calendar month. Recomputing an open
// period is idempotent; once the period's royalties are paid the compute
// refuses and the job leaves it alone.
func (s *Scheduler) RoyaltiesJob(ctx context.Context) error {
	period := s.clock.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	_, err := s.royaltySvc.ComputePeriod(ctx, period)
	if errors.Is(err, royaltydomain.ErrImmutablePeriod) {
		return nil
	}
	return err
}
