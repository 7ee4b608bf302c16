package domain

import (
	"context"
	"time"

	"github.com/mokanda/livraly/internal/money"
	"github.com/shopspring/decimal"
)

// SetRequest carries one new configuration version. Exactly one of the value
// fields is consulted, selected by Kind.
type SetRequest struct {
	ConfigType    ConfigType
	Key           string
	Kind          ValueKind
	Rate          decimal.Decimal
	Amount        money.Money
	Int           int64
	Schedule      []int
	EffectiveFrom time.Time
}

// Service resolves configuration values "as of" a date so historical
// computations stay reproducible.
type Service interface {
	Set(ctx context.Context, req SetRequest) (Entry, error)
	ResolveRate(ctx context.Context, configType ConfigType, key string, asOf time.Time) (decimal.Decimal, error)
	ResolveThreshold(ctx context.Context, configType ConfigType, key string, asOf time.Time) (money.Money, error)
	ResolveInt(ctx context.Context, configType ConfigType, key string, asOf time.Time) (int64, error)
	ResolveSchedule(ctx context.Context, configType ConfigType, key string, asOf time.Time) ([]int, error)
	History(ctx context.Context, configType ConfigType, key string) ([]Entry, error)
}
