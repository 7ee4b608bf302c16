package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	configservice "github.com/mokanda/livraly/internal/billingconfig/service"
	"github.com/mokanda/livraly/internal/clock"
	"github.com/mokanda/livraly/internal/config"
	"github.com/mokanda/livraly/internal/gateway/adapters"
	"github.com/mokanda/livraly/internal/gateway/adapters/cardstream"
	"github.com/mokanda/livraly/internal/gateway/adapters/njiamoney"
	"github.com/mokanda/livraly/internal/gateway/adapters/tambapay"
	"github.com/mokanda/livraly/internal/gateway/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	invoiceservice "github.com/mokanda/livraly/internal/invoice/service"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	ledgerrepo "github.com/mokanda/livraly/internal/ledger/repository"
	ledgerservice "github.com/mokanda/livraly/internal/ledger/service"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	recurringservice "github.com/mokanda/livraly/internal/recurring/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cardstreamSecret = "whsec_gateway_test"

type testEnv struct {
	db        *gorm.DB
	svc       domain.Service
	ledger    ledgerdomain.Service
	invoice   invoicedomain.Service
	recurring recurringdomain.Service
	clock     *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	db.Exec("PRAGMA busy_timeout = 10000")
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.PaymentTransaction{},
		&invoicedomain.BillingAccount{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&recurringdomain.Subscription{},
		&configdomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		Repo:  ledgerrepo.Provide(),
		GenID: node,
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		LedgerRepo: ledgerrepo.Provide(),
		Clock:      fake,
	})
	configSvc := configservice.NewService(configservice.Params{DB: db, Log: log, GenID: node})
	recurringSvc := recurringservice.NewService(recurringservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Invoice: invoiceSvc,
		Config:  configSvc,
	})

	registry := adapters.NewRegistry(
		cardstream.NewFactory(),
		njiamoney.NewFactory(),
		tambapay.NewFactory(),
	)
	cfg := config.Config{
		Providers: config.ProvidersConfig{
			Cardstream: config.ProviderConfig{WebhookSecret: cardstreamSecret},
		},
	}
	svc := NewService(Params{
		Log:       log,
		Cfg:       cfg,
		Registry:  registry,
		Ledger:    ledgerSvc,
		Invoice:   invoiceSvc,
		Recurring: recurringSvc,
	})
	return &testEnv{db: db, svc: svc, ledger: ledgerSvc, invoice: invoiceSvc, recurring: recurringSvc, clock: fake}
}

func signedHeaders(payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(cardstreamSecret))
	mac.Write([]byte("1760000000." + string(payload)))
	headers := http.Header{}
	headers.Set("Cardstream-Signature", fmt.Sprintf("t=1760000000,v1=%s", hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func chargePayload(eventID, chargeID string, amount int64, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "payment.succeeded",
		"created": 1760000000,
		"data": {"object": {
			"id": %q,
			"amount": %d,
			"currency": "eur",
			"created": 1760000000,
			"metadata": {%s}
		}}
	}`, eventID, chargeID, amount, metadata))
}

func (e *testEnv) mustInvoice(t *testing.T, total int64) invoicedomain.Invoice {
	t.Helper()
	account, err := e.invoice.CreateAccount(context.Background(), invoicedomain.BillingAccount{
		Kind:        invoicedomain.AccountKindReader,
		DisplayName: "Fatou Ndiaye",
		Currency:    "EUR",
	})
	require.NoError(t, err)
	invoice, err := e.invoice.Create(context.Background(), invoicedomain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items: []invoicedomain.ItemInput{{
			Description: "Harmattan (ebook)",
			Quantity:    1,
			UnitAmount:  total,
			Currency:    "EUR",
		}},
	})
	require.NoError(t, err)
	return invoice
}

func TestIngestWebhook_SettlesInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.mustInvoice(t, 1500)

	payload := chargePayload("evt_1", "ch_1", 1500, fmt.Sprintf(`"invoice_id": %q`, invoice.ID.String()))
	result, err := env.svc.IngestWebhook(ctx, "cardstream", payload, signedHeaders(payload))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "evt_1", result.EventID)

	updated, _, err := env.invoice.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, updated.Status)
	assert.Equal(t, int64(1500), updated.PaidAmount)

	txns, err := env.ledger.Query(ctx, ledgerdomain.Filter{Provider: "cardstream"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "ch_1", txns[0].ProviderTxnID)
	assert.Equal(t, ledgerdomain.SubjectInvoice, txns[0].SubjectType)
	assert.Equal(t, invoice.ID, txns[0].SubjectID)
}

func TestIngestWebhook_ReplayIsInert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.mustInvoice(t, 1500)

	payload := chargePayload("evt_2", "ch_2", 1500, fmt.Sprintf(`"invoice_id": %q`, invoice.ID.String()))
	for i := 0; i < 3; i++ {
		result, err := env.svc.IngestWebhook(ctx, "cardstream", payload, signedHeaders(payload))
		require.NoError(t, err)
		assert.Equal(t, i > 0, result.Duplicate)
	}

	txns, err := env.ledger.Query(ctx, ledgerdomain.Filter{Provider: "cardstream"})
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	updated, _, err := env.invoice.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), updated.PaidAmount)
}

func TestIngestWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := chargePayload("evt_3", "ch_3", 1500, "")

	headers := http.Header{}
	headers.Set("Cardstream-Signature", "t=1760000000,v1=deadbeef")
	_, err := env.svc.IngestWebhook(context.Background(), "cardstream", payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	// Nothing reached the ledger.
	txns, err := env.ledger.Query(context.Background(), ledgerdomain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestIngestWebhook_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	// Configured without a webhook secret behaves the same.
	_, err = env.svc.IngestWebhook(context.Background(), "njiamoney", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestIngestWebhook_IgnoredEvent(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id": "evt_4", "type": "customer.updated", "data": {"object": {}}}`)
	result, err := env.svc.IngestWebhook(context.Background(), "cardstream", payload, signedHeaders(payload))
	require.NoError(t, err)
	assert.True(t, result.Ignored)
}

func TestIngestWebhook_RenewsSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, err := env.invoice.CreateAccount(ctx, invoicedomain.BillingAccount{
		Kind:        invoicedomain.AccountKindReader,
		DisplayName: "Fatou Ndiaye",
		Currency:    "EUR",
	})
	require.NoError(t, err)
	sub, err := env.recurring.Create(ctx, recurringdomain.CreateRequest{
		AccountID:     account.ID,
		PlanName:      "Bibliotheque",
		Provider:      "cardstream",
		InstrumentRef: "card_tok_9",
		AmountMinor:   1200,
		Currency:      "EUR",
		Frequency:     recurringdomain.FrequencyMonthly,
	})
	require.NoError(t, err)

	env.clock.Advance(32 * 24 * time.Hour)
	claimed, err := env.recurring.ClaimDueRenewals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].PendingInvoiceID)
	invoiceID := *claimed[0].PendingInvoiceID

	metadata := fmt.Sprintf(`"invoice_id": %q, "subscription_id": %q`, invoiceID.String(), sub.ID.String())
	payload := chargePayload("evt_5", "ch_5", 1200, metadata)
	_, err = env.svc.IngestWebhook(ctx, "cardstream", payload, signedHeaders(payload))
	require.NoError(t, err)

	renewed, err := env.recurring.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, sub.CurrentPeriodEnd, renewed.CurrentPeriodStart)

	invoice, _, err := env.invoice.Get(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
}

func TestIngestWebhook_FailureAdvancesDunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, err := env.invoice.CreateAccount(ctx, invoicedomain.BillingAccount{
		Kind:        invoicedomain.AccountKindReader,
		DisplayName: "Fatou Ndiaye",
		Currency:    "EUR",
	})
	require.NoError(t, err)
	sub, err := env.recurring.Create(ctx, recurringdomain.CreateRequest{
		AccountID:     account.ID,
		PlanName:      "Bibliotheque",
		Provider:      "cardstream",
		InstrumentRef: "card_tok_9",
		AmountMinor:   1200,
		Currency:      "EUR",
		Frequency:     recurringdomain.FrequencyMonthly,
	})
	require.NoError(t, err)

	env.clock.Advance(32 * 24 * time.Hour)
	_, err = env.recurring.ClaimDueRenewals(ctx, 10)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_6",
		"type": "payment.failed",
		"created": 1760000000,
		"data": {"object": {
			"id": "ch_6",
			"amount": 1200,
			"currency": "eur",
			"failure_code": "insufficient_funds",
			"metadata": {"subscription_id": %q}
		}}
	}`, sub.ID.String()))
	_, err = env.svc.IngestWebhook(ctx, "cardstream", payload, signedHeaders(payload))
	require.NoError(t, err)

	updated, err := env.recurring.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, recurringdomain.SubscriptionStatusPastDue, updated.Status)
	assert.Equal(t, 1, updated.FailedAttempts)
}
