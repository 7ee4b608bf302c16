package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) configdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&configdomain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
}

func TestResolveRate_PicksLatestEffectiveVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeRoyaltyRate,
		Key:           "direct_sale",
		Kind:          configdomain.ValueKindRate,
		Rate:          decimal.RequireFromString("0.70"),
		EffectiveFrom: jan,
	})
	require.NoError(t, err)

	_, err = svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeRoyaltyRate,
		Key:           "direct_sale",
		Kind:          configdomain.ValueKindRate,
		Rate:          decimal.RequireFromString("0.75"),
		EffectiveFrom: apr,
	})
	require.NoError(t, err)

	// Before the second version applies the first one still governs.
	rate, err := svc.ResolveRate(ctx, configdomain.ConfigTypeRoyaltyRate, "direct_sale", apr.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.70")))

	rate, err = svc.ResolveRate(ctx, configdomain.ConfigTypeRoyaltyRate, "direct_sale", apr)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.75")))
}

func TestResolve_MissingKey(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ResolveRate(context.Background(), configdomain.ConfigTypeRoyaltyRate, "subscription_read", time.Now().UTC())
	assert.ErrorIs(t, err, configdomain.ErrConfigMissing)
}

func TestResolve_BeforeFirstEffectiveDate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeRoyaltyRate,
		Key:           "direct_sale",
		Kind:          configdomain.ValueKindRate,
		Rate:          decimal.RequireFromString("0.70"),
		EffectiveFrom: mar,
	})
	require.NoError(t, err)

	_, err = svc.ResolveRate(ctx, configdomain.ConfigTypeRoyaltyRate, "direct_sale", mar.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, configdomain.ErrConfigMissing)
}

func TestResolveThreshold_RoundTripsCurrency(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	threshold := money.MustNew(10000, money.XOF)
	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypePayoutThreshold,
		Key:           "default",
		Kind:          configdomain.ValueKindAmount,
		Amount:        threshold,
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got, err := svc.ResolveThreshold(ctx, configdomain.ConfigTypePayoutThreshold, "default", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, threshold, got)
}

func TestResolveSchedule_DunningDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeDunning,
		Key:           "retry_schedule",
		Kind:          configdomain.ValueKindSchedule,
		Schedule:      []int{1, 3, 7},
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	schedule, err := svc.ResolveSchedule(ctx, configdomain.ConfigTypeDunning, "retry_schedule", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 7}, schedule)
}

func TestResolve_KindMismatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeDunning,
		Key:           "max_attempts",
		Kind:          configdomain.ValueKindInt,
		Int:           3,
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = svc.ResolveRate(ctx, configdomain.ConfigTypeDunning, "max_attempts", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, configdomain.ErrValueKindMismatch)
}

func TestSet_RejectsInvalidValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	effective := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeRoyaltyRate,
		Key:           "direct_sale",
		Kind:          configdomain.ValueKindRate,
		Rate:          decimal.RequireFromString("-0.10"),
		EffectiveFrom: effective,
	})
	assert.ErrorIs(t, err, configdomain.ErrInvalidConfig)

	_, err = svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeDunning,
		Key:           "retry_schedule",
		Kind:          configdomain.ValueKindSchedule,
		Schedule:      []int{1, 0, 7},
		EffectiveFrom: effective,
	})
	assert.ErrorIs(t, err, configdomain.ErrInvalidConfig)

	_, err = svc.Set(ctx, configdomain.SetRequest{
		ConfigType:    configdomain.ConfigTypeRoyaltyRate,
		Key:           "",
		Kind:          configdomain.ValueKindRate,
		Rate:          decimal.RequireFromString("0.70"),
		EffectiveFrom: effective,
	})
	assert.ErrorIs(t, err, configdomain.ErrInvalidConfig)
}

func TestHistory_ReturnsAllVersionsInOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i, raw := range []string{"0.60", "0.65", "0.70"} {
		_, err := svc.Set(ctx, configdomain.SetRequest{
			ConfigType:    configdomain.ConfigTypeRoyaltyRate,
			Key:           "direct_sale",
			Kind:          configdomain.ValueKindRate,
			Rate:          decimal.RequireFromString(raw),
			EffectiveFrom: time.Date(2026, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, configdomain.ConfigTypeRoyaltyRate, "direct_sale")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "0.6", *history[0].DecimalValue)
	assert.Equal(t, "0.7", *history[2].DecimalValue)
}
