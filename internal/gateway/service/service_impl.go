package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mokanda/livraly/internal/config"
	"github.com/mokanda/livraly/internal/gateway/adapters"
	"github.com/mokanda/livraly/internal/gateway/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/observability/metrics"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	Registry  *adapters.Registry
	Ledger    ledgerdomain.Service
	Invoice   invoicedomain.Service
	Recurring recurringdomain.Service
}

type Service struct {
	log       *zap.Logger
	registry  *adapters.Registry
	adapters  map[string]domain.PaymentAdapter
	ledger    ledgerdomain.Service
	invoice   invoicedomain.Service
	recurring recurringdomain.Service
}

func NewService(p Params) domain.Service {
	s := &Service{
		log:       p.Log.Named("gateway.service"),
		registry:  p.Registry,
		adapters:  map[string]domain.PaymentAdapter{},
		ledger:    p.Ledger,
		invoice:   p.Invoice,
		recurring: p.Recurring,
	}

	for provider, cfg := range map[string]config.ProviderConfig{
		"cardstream": p.Cfg.Providers.Cardstream,
		"njiamoney":  p.Cfg.Providers.Njiamoney,
		"tambapay":   p.Cfg.Providers.Tambapay,
	} {
		if strings.TrimSpace(cfg.WebhookSecret) == "" {
			continue
		}
		adapter, err := p.Registry.NewAdapter(provider, domain.AdapterConfig{
			Provider: provider,
			Config: map[string]any{
				"webhook_secret": cfg.WebhookSecret,
				"api_key":        cfg.APIKey,
				"endpoint":       cfg.Endpoint,
			},
		})
		if err != nil {
			s.log.Warn("provider adapter unavailable",
				zap.String("provider", provider),
				zap.Error(err),
			)
			continue
		}
		s.adapters[provider] = adapter
	}
	return s
}

func (s *Service) adapter(provider string) (domain.PaymentAdapter, error) {
	adapter, ok := s.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

// IngestWebhook verifies, parses and records one provider callback. Replays
// short-circuit at the ledger and cause no further side effects.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	m := metrics.Engine()

	adapter, err := s.adapter(provider)
	if err != nil {
		m.IncWebhookRejected(provider, "unknown_provider")
		return domain.WebhookResult{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		m.IncWebhookRejected(provider, "signature")
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return domain.WebhookResult{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			m.IncWebhookReceived(provider, "ignored")
			return domain.WebhookResult{Provider: provider, Ignored: true}, nil
		}
		m.IncWebhookRejected(provider, "payload")
		return domain.WebhookResult{}, err
	}

	txn, err := toTransaction(event)
	if err != nil {
		m.IncWebhookRejected(provider, "payload")
		return domain.WebhookResult{}, err
	}

	result, err := s.ledger.Ingest(ctx, txn)
	if err != nil {
		return domain.WebhookResult{}, err
	}
	if result.Duplicate {
		m.IncWebhookReceived(provider, "duplicate")
		return domain.WebhookResult{
			Provider:  provider,
			EventID:   event.ProviderEventID,
			EventType: event.Type,
			Duplicate: true,
		}, nil
	}

	s.dispatch(ctx, event)
	m.IncWebhookReceived(provider, "processed")
	return domain.WebhookResult{
		Provider:  provider,
		EventID:   event.ProviderEventID,
		EventType: event.Type,
	}, nil
}

// dispatch applies a freshly recorded event to invoices and subscriptions.
// Runs exactly once per transaction; duplicates never reach here.
func (s *Service) dispatch(ctx context.Context, event *domain.PaymentEvent) {
	if event.InvoiceID != nil && event.Type != domain.EventTypePaymentFailed {
		if _, err := s.invoice.ApplyPayment(ctx, *event.InvoiceID); err != nil {
			s.log.Warn("payment apply failed",
				zap.Int64("invoice_id", int64(*event.InvoiceID)),
				zap.Error(err),
			)
		}
	}

	if event.SubscriptionID == nil {
		return
	}
	switch event.Type {
	case domain.EventTypePaymentSucceeded:
		if _, err := s.recurring.MarkRenewed(ctx, *event.SubscriptionID); err != nil {
			if !errors.Is(err, recurringdomain.ErrInvalidTransition) {
				s.log.Warn("subscription renewal failed",
					zap.Int64("subscription_id", int64(*event.SubscriptionID)),
					zap.Error(err),
				)
			}
		}
	case domain.EventTypePaymentFailed:
		if _, err := s.recurring.RecordChargeFailure(ctx, *event.SubscriptionID, false); err != nil {
			if !errors.Is(err, recurringdomain.ErrInvalidTransition) {
				s.log.Warn("subscription failure record failed",
					zap.Int64("subscription_id", int64(*event.SubscriptionID)),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Service) Charge(ctx context.Context, provider string, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	adapter, err := s.adapter(provider)
	if err != nil {
		return nil, err
	}
	return adapter.Charge(ctx, req)
}

func toTransaction(event *domain.PaymentEvent) (ledgerdomain.PaymentTransaction, error) {
	providerTxnID := event.ProviderPaymentID
	if strings.TrimSpace(providerTxnID) == "" {
		providerTxnID = event.ProviderEventID
	}
	txn := ledgerdomain.PaymentTransaction{
		Provider:      event.Provider,
		ProviderTxnID: providerTxnID,
		AmountMinor:   event.Amount,
		Currency:      event.Currency,
		AuthorID:      event.AuthorID,
		WorkID:        event.WorkID,
		Payload:       event.RawPayload,
		OccurredAt:    event.OccurredAt,
	}

	switch event.Type {
	case domain.EventTypePaymentSucceeded:
		txn.Kind = ledgerdomain.KindCharge
		txn.Status = ledgerdomain.StatusSettled
	case domain.EventTypePaymentFailed:
		txn.Kind = ledgerdomain.KindCharge
		txn.Status = ledgerdomain.StatusFailed
	case domain.EventTypeRefunded:
		txn.Kind = ledgerdomain.KindRefund
		txn.Status = ledgerdomain.StatusSettled
	default:
		return ledgerdomain.PaymentTransaction{}, domain.ErrInvalidEvent
	}

	switch {
	case event.InvoiceID != nil:
		txn.SubjectType = ledgerdomain.SubjectInvoice
		txn.SubjectID = *event.InvoiceID
	case event.SubscriptionID != nil:
		txn.SubjectType = ledgerdomain.SubjectSubscription
		txn.SubjectID = *event.SubscriptionID
	default:
		txn.SubjectType = ledgerdomain.SubjectSale
	}

	switch ledgerdomain.SaleKind(event.SaleKind) {
	case ledgerdomain.SaleKindDirect, ledgerdomain.SaleKindSubscriptionRead:
		kind := ledgerdomain.SaleKind(event.SaleKind)
		txn.SaleKind = &kind
	}
	return txn, nil
}
