package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mokanda/livraly/internal/ledger/domain"
	"github.com/mokanda/livraly/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dsn string) domain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	db.Exec("PRAGMA busy_timeout = 10000")
	require.NoError(t, db.AutoMigrate(&domain.PaymentTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		GenID: node,
	})
}

func chargeTxn(providerTxnID string) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		Provider:      "cardstream",
		ProviderTxnID: providerTxnID,
		Kind:          domain.KindCharge,
		Status:        domain.StatusSettled,
		AmountMinor:   1500,
		Currency:      "EUR",
		SubjectType:   domain.SubjectInvoice,
		SubjectID:     42,
		Payload:       datatypes.JSON([]byte(`{"event":"payment.settled"}`)),
		OccurredAt:    time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestIngest_StoresAndReportsDuplicate(t *testing.T) {
	svc := newTestService(t, "file::memory:")
	ctx := context.Background()

	first, err := svc.Ingest(ctx, chargeTxn("txn_001"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotZero(t, first.Transaction.ID)
	require.NotNil(t, first.Transaction.SettledAt)

	// Same provider id again, even with a different amount, is a no-op.
	replay := chargeTxn("txn_001")
	replay.AmountMinor = 9999
	second, err := svc.Ingest(ctx, replay)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(1500), second.Transaction.AmountMinor)
}

func TestIngest_SameTxnIDDifferentProvider(t *testing.T) {
	svc := newTestService(t, "file::memory:")
	ctx := context.Background()

	_, err := svc.Ingest(ctx, chargeTxn("txn_shared"))
	require.NoError(t, err)

	other := chargeTxn("txn_shared")
	other.Provider = "njiamoney"
	res, err := svc.Ingest(ctx, other)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestIngest_ConcurrentReplays(t *testing.T) {
	svc := newTestService(t, "file:ledger_concurrent?mode=memory&cache=shared")
	ctx := context.Background()

	const workers = 10
	var inserted, duplicates atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Ingest(ctx, chargeTxn("txn_racy"))
			if err != nil {
				return
			}
			if res.Duplicate {
				duplicates.Add(1)
			} else {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inserted.Load())
	assert.Equal(t, int64(workers-1), duplicates.Load())

	items, err := svc.Query(ctx, domain.Filter{Provider: "cardstream"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestIngest_RejectsInvalid(t *testing.T) {
	svc := newTestService(t, "file::memory:")
	ctx := context.Background()

	cases := map[string]func(*domain.PaymentTransaction){
		"empty provider":   func(txn *domain.PaymentTransaction) { txn.Provider = " " },
		"empty txn id":     func(txn *domain.PaymentTransaction) { txn.ProviderTxnID = "" },
		"zero amount":      func(txn *domain.PaymentTransaction) { txn.AmountMinor = 0 },
		"negative amount":  func(txn *domain.PaymentTransaction) { txn.AmountMinor = -100 },
		"unknown currency": func(txn *domain.PaymentTransaction) { txn.Currency = "GBP" },
		"unknown kind":     func(txn *domain.PaymentTransaction) { txn.Kind = "chargeback" },
		"unknown status":   func(txn *domain.PaymentTransaction) { txn.Status = "maybe" },
		"zero occurred_at": func(txn *domain.PaymentTransaction) { txn.OccurredAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			txn := chargeTxn("txn_invalid_" + name)
			mutate(&txn)
			_, err := svc.Ingest(ctx, txn)
			assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
		})
	}
}

func TestQuery_FiltersByAuthorAndSaleKind(t *testing.T) {
	svc := newTestService(t, "file::memory:")
	ctx := context.Background()

	author := snowflake.ID(77)
	saleKind := domain.SaleKindDirect

	txn := chargeTxn("txn_author")
	txn.AuthorID = &author
	txn.SaleKind = &saleKind
	_, err := svc.Ingest(ctx, txn)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, chargeTxn("txn_other"))
	require.NoError(t, err)

	items, err := svc.Query(ctx, domain.Filter{AuthorID: author, SaleKind: saleKind})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "txn_author", items[0].ProviderTxnID)
}

func TestQuery_TimeWindowIsHalfOpen(t *testing.T) {
	svc := newTestService(t, "file::memory:")
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"txn_a", "txn_b", "txn_c"} {
		txn := chargeTxn(id)
		txn.OccurredAt = base.AddDate(0, 0, i*10)
		_, err := svc.Ingest(ctx, txn)
		require.NoError(t, err)
	}

	items, err := svc.Query(ctx, domain.Filter{
		From: base,
		To:   base.AddDate(0, 0, 20),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "txn_a", items[0].ProviderTxnID)
	assert.Equal(t, "txn_b", items[1].ProviderTxnID)
}
