package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mokanda/livraly/internal/clock"
	"github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	ledgerrepo "github.com/mokanda/livraly/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newTestEnv(t *testing.T, dsn string) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	db.Exec("PRAGMA busy_timeout = 10000")
	require.NoError(t, db.AutoMigrate(
		&domain.BillingAccount{},
		&domain.Invoice{},
		&domain.InvoiceItem{},
		&ledgerdomain.PaymentTransaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		LedgerRepo: ledgerrepo.Provide(),
		Clock:      fake,
	})
	return &testEnv{db: db, svc: svc, clock: fake, node: node}
}

func (e *testEnv) mustAccount(t *testing.T, currency string) domain.BillingAccount {
	t.Helper()
	account, err := e.svc.CreateAccount(context.Background(), domain.BillingAccount{
		Kind:        domain.AccountKindReader,
		DisplayName: "Amina Diallo",
		Email:       "amina@example.com",
		Currency:    currency,
	})
	require.NoError(t, err)
	return account
}

func eurItem(amount int64) domain.ItemInput {
	return domain.ItemInput{
		Description: "Sous le fromager (ebook)",
		Quantity:    1,
		UnitAmount:  amount,
		Currency:    "EUR",
	}
}

func TestCreate_TotalIsSumOfItems(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items: []domain.ItemInput{
			{Description: "Ebook", Quantity: 2, UnitAmount: 1200, Currency: "EUR"},
			{Description: "Audiobook", Quantity: 1, UnitAmount: 1800, Currency: "EUR"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4200), invoice.TotalAmount)
	assert.Equal(t, domain.InvoiceStatusIssued, invoice.Status)
	assert.Equal(t, int64(1), invoice.Number)

	_, items, err := env.svc.Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	var sum int64
	for _, item := range items {
		sum += item.Amount
	}
	assert.Equal(t, invoice.TotalAmount, sum)
}

func TestCreate_RejectsMixedCurrencies(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	_, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items: []domain.ItemInput{
			eurItem(1000),
			{Description: "Mobile read", Quantity: 1, UnitAmount: 500, Currency: "XOF"},
		},
	})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestCreate_RejectsAccountCurrencyMismatch(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "XOF")

	_, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
	})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestCreate_RejectsEmptyInvoice(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	_, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyInvoice)
}

func TestCreate_NumbersAreDensePerAccount(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	first := env.mustAccount(t, "EUR")
	second := env.mustAccount(t, "EUR")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Create(context.Background(), domain.CreateRequest{
			AccountID: first.ID,
			Currency:  "EUR",
			Items:     []domain.ItemInput{eurItem(1000)},
		})
		require.NoError(t, err)
	}
	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: second.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
	})
	require.NoError(t, err)

	// Each account numbers independently from 1.
	assert.Equal(t, int64(1), invoice.Number)

	invoices, err := env.svc.List(context.Background(), domain.ListFilter{AccountID: first.ID})
	require.NoError(t, err)
	numbers := make([]int64, 0, len(invoices))
	for _, inv := range invoices {
		numbers = append(numbers, inv.Number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	assert.Equal(t, []int64{1, 2, 3}, numbers)
}

func TestCreate_ConcurrentIssuanceStaysGapless(t *testing.T) {
	env := newTestEnv(t, "file:invoice_concurrent?mode=memory&cache=shared")
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	account := env.mustAccount(t, "EUR")

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Create(context.Background(), domain.CreateRequest{
				AccountID: account.ID,
				Currency:  "EUR",
				Items:     []domain.ItemInput{eurItem(500)},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	invoices, err := env.svc.List(context.Background(), domain.ListFilter{AccountID: account.ID})
	require.NoError(t, err)
	require.Len(t, invoices, workers)

	numbers := make([]int64, 0, workers)
	for _, inv := range invoices {
		numbers = append(numbers, inv.Number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		assert.Equal(t, int64(i+1), n)
	}
}

func settleCharge(t *testing.T, env *testEnv, invoiceID snowflake.ID, amount int64, txnID string) {
	t.Helper()
	settled := env.clock.Now()
	inserted, err := ledgerrepo.Provide().Insert(context.Background(), env.db, &ledgerdomain.PaymentTransaction{
		ID:            env.node.Generate(),
		Provider:      "cardstream",
		ProviderTxnID: txnID,
		Kind:          ledgerdomain.KindCharge,
		Status:        ledgerdomain.StatusSettled,
		AmountMinor:   amount,
		Currency:      "EUR",
		SubjectType:   ledgerdomain.SubjectInvoice,
		SubjectID:     invoiceID,
		OccurredAt:    settled,
		ReceivedAt:    settled,
		SettledAt:     &settled,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestApplyPayment_PartialThenPaid(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(3000)},
	})
	require.NoError(t, err)

	settleCharge(t, env, invoice.ID, 1000, "txn_part_1")
	updated, err := env.svc.ApplyPayment(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusIssued, updated.Status)
	assert.Equal(t, int64(1000), updated.PaidAmount)
	assert.Nil(t, updated.PaidAt)

	settleCharge(t, env, invoice.ID, 2000, "txn_part_2")
	updated, err = env.svc.ApplyPayment(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, updated.Status)
	assert.Equal(t, int64(3000), updated.PaidAmount)
	require.NotNil(t, updated.PaidAt)
}

func TestApplyPayment_ReplayDoesNotDoubleCount(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(3000)},
	})
	require.NoError(t, err)

	settleCharge(t, env, invoice.ID, 3000, "txn_full")

	for i := 0; i < 3; i++ {
		updated, err := env.svc.ApplyPayment(context.Background(), invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), updated.PaidAmount)
		assert.Equal(t, domain.InvoiceStatusPaid, updated.Status)
	}
}

func TestMarkOverdue_OnlyPastDueIssued(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	pastDue := env.clock.Now().AddDate(0, 0, -1)
	futureDue := env.clock.Now().AddDate(0, 0, 10)

	overdue, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
		DueAt:     &pastDue,
	})
	require.NoError(t, err)

	current, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
		DueAt:     &futureDue,
	})
	require.NoError(t, err)

	count, err := env.svc.MarkOverdue(context.Background(), env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, _, err := env.svc.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOverdue, got.Status)

	got, _, err = env.svc.Get(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusIssued, got.Status)
}

func TestVoid_PaidInvoiceRefused(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
	})
	require.NoError(t, err)

	settleCharge(t, env, invoice.ID, 1000, "txn_void")
	_, err = env.svc.ApplyPayment(context.Background(), invoice.ID)
	require.NoError(t, err)

	_, err = env.svc.Void(context.Background(), invoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestVoid_IssuedInvoice(t *testing.T) {
	env := newTestEnv(t, "file::memory:")
	account := env.mustAccount(t, "EUR")

	invoice, err := env.svc.Create(context.Background(), domain.CreateRequest{
		AccountID: account.ID,
		Currency:  "EUR",
		Items:     []domain.ItemInput{eurItem(1000)},
	})
	require.NoError(t, err)

	voided, err := env.svc.Void(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusVoid, voided.Status)
	require.NotNil(t, voided.VoidedAt)
}
