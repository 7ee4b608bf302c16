package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	"github.com/mokanda/livraly/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) configdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billingconfig.service"),
		genID: p.GenID,
	}
}

func (s *Service) Set(ctx context.Context, req configdomain.SetRequest) (configdomain.Entry, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" || strings.TrimSpace(string(req.ConfigType)) == "" {
		return configdomain.Entry{}, configdomain.ErrInvalidConfig
	}
	if req.EffectiveFrom.IsZero() {
		return configdomain.Entry{}, configdomain.ErrInvalidConfig
	}

	entry := configdomain.Entry{
		ID:            s.genID.Generate(),
		ConfigType:    req.ConfigType,
		Key:           key,
		ValueKind:     req.Kind,
		EffectiveFrom: req.EffectiveFrom.UTC(),
		CreatedAt:     time.Now().UTC(),
	}

	switch req.Kind {
	case configdomain.ValueKindRate:
		if req.Rate.IsNegative() {
			return configdomain.Entry{}, configdomain.ErrInvalidConfig
		}
		value := req.Rate.String()
		entry.DecimalValue = &value
	case configdomain.ValueKindAmount:
		if req.Amount.IsNegative() {
			return configdomain.Entry{}, configdomain.ErrInvalidConfig
		}
		amount := req.Amount.AmountMinor
		currency := string(req.Amount.Currency)
		if _, err := money.ParseCurrency(currency); err != nil {
			return configdomain.Entry{}, err
		}
		entry.IntValue = &amount
		entry.Currency = &currency
	case configdomain.ValueKindInt:
		value := req.Int
		if value < 0 {
			return configdomain.Entry{}, configdomain.ErrInvalidConfig
		}
		entry.IntValue = &value
	case configdomain.ValueKindSchedule:
		if len(req.Schedule) == 0 {
			return configdomain.Entry{}, configdomain.ErrInvalidConfig
		}
		parts := make([]string, 0, len(req.Schedule))
		for _, day := range req.Schedule {
			if day <= 0 {
				return configdomain.Entry{}, configdomain.ErrInvalidConfig
			}
			parts = append(parts, strconv.Itoa(day))
		}
		value := strings.Join(parts, ",")
		entry.TextValue = &value
	default:
		return configdomain.Entry{}, configdomain.ErrInvalidConfig
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return configdomain.Entry{}, err
	}
	s.log.Info("configuration appended",
		zap.String("config_type", string(entry.ConfigType)),
		zap.String("key", entry.Key),
		zap.Time("effective_from", entry.EffectiveFrom),
	)
	return entry, nil
}

func (s *Service) ResolveRate(ctx context.Context, configType configdomain.ConfigType, key string, asOf time.Time) (decimal.Decimal, error) {
	entry, err := s.resolve(ctx, configType, key, asOf, configdomain.ValueKindRate)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if entry.DecimalValue == nil {
		return decimal.Decimal{}, configdomain.ErrValueKindMismatch
	}
	rate, err := decimal.NewFromString(*entry.DecimalValue)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", configdomain.ErrInvalidConfig, *entry.DecimalValue)
	}
	return rate, nil
}

func (s *Service) ResolveThreshold(ctx context.Context, configType configdomain.ConfigType, key string, asOf time.Time) (money.Money, error) {
	entry, err := s.resolve(ctx, configType, key, asOf, configdomain.ValueKindAmount)
	if err != nil {
		return money.Money{}, err
	}
	if entry.IntValue == nil || entry.Currency == nil {
		return money.Money{}, configdomain.ErrValueKindMismatch
	}
	currency, err := money.ParseCurrency(*entry.Currency)
	if err != nil {
		return money.Money{}, err
	}
	return money.Money{AmountMinor: *entry.IntValue, Currency: currency}, nil
}

func (s *Service) ResolveInt(ctx context.Context, configType configdomain.ConfigType, key string, asOf time.Time) (int64, error) {
	entry, err := s.resolve(ctx, configType, key, asOf, configdomain.ValueKindInt)
	if err != nil {
		return 0, err
	}
	if entry.IntValue == nil {
		return 0, configdomain.ErrValueKindMismatch
	}
	return *entry.IntValue, nil
}

func (s *Service) ResolveSchedule(ctx context.Context, configType configdomain.ConfigType, key string, asOf time.Time) ([]int, error) {
	entry, err := s.resolve(ctx, configType, key, asOf, configdomain.ValueKindSchedule)
	if err != nil {
		return nil, err
	}
	if entry.TextValue == nil {
		return nil, configdomain.ErrValueKindMismatch
	}
	parts := strings.Split(*entry.TextValue, ",")
	schedule := make([]int, 0, len(parts))
	for _, part := range parts {
		day, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || day <= 0 {
			return nil, fmt.Errorf("%w: %q", configdomain.ErrInvalidConfig, *entry.TextValue)
		}
		schedule = append(schedule, day)
	}
	return schedule, nil
}

func (s *Service) History(ctx context.Context, configType configdomain.ConfigType, key string) ([]configdomain.Entry, error) {
	var entries []configdomain.Entry
	err := s.db.WithContext(ctx).
		Where("config_type = ? AND key = ?", configType, strings.TrimSpace(key)).
		Order("effective_from ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) resolve(ctx context.Context, configType configdomain.ConfigType, key string, asOf time.Time, kind configdomain.ValueKind) (*configdomain.Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, configdomain.ErrInvalidConfig
	}
	if asOf.IsZero() {
		return nil, configdomain.ErrInvalidConfig
	}

	var entry configdomain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, config_type, key, value_kind, decimal_value, int_value, text_value,
		        currency, effective_from, created_at
		 FROM billing_config_entries
		 WHERE config_type = ? AND key = ? AND effective_from <= ?
		 ORDER BY effective_from DESC, id DESC
		 LIMIT 1`,
		configType,
		key,
		asOf.UTC(),
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, fmt.Errorf("%w: %s/%s as of %s", configdomain.ErrConfigMissing, configType, key, asOf.UTC().Format(time.RFC3339))
	}
	if entry.ValueKind != kind {
		return nil, configdomain.ErrValueKindMismatch
	}
	return &entry, nil
}
