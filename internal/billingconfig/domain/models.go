// Package domain contains the versioned billing configuration store model.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrConfigMissing   = errors.New("config_missing")
	ErrInvalidConfig   = errors.New("invalid_config_value")
	ErrValueKindMismatch = errors.New("config_value_kind_mismatch")
)

// ConfigType scopes keys into known configuration families.
type ConfigType string

const (
	ConfigTypeRoyaltyRate     ConfigType = "royalty_rate"
	ConfigTypePayoutThreshold ConfigType = "payout_threshold"
	ConfigTypeDunning         ConfigType = "dunning"
	ConfigTypeBilling         ConfigType = "billing"
)

// ValueKind tags which typed column of an Entry carries the value.
type ValueKind string

const (
	ValueKindRate     ValueKind = "rate"
	ValueKindAmount   ValueKind = "amount"
	ValueKindInt      ValueKind = "int"
	ValueKindSchedule ValueKind = "schedule"
)

// Entry is one append-only configuration version. Lookups resolve the most
// recent entry with effective_from at or before the query date, never the
// wall clock.
type Entry struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	ConfigType    ConfigType   `gorm:"type:text;not null;index:idx_config_lookup,priority:1"`
	Key           string       `gorm:"type:text;not null;index:idx_config_lookup,priority:2"`
	ValueKind     ValueKind    `gorm:"type:text;not null"`
	DecimalValue  *string      `gorm:"type:text"`
	IntValue      *int64       `gorm:""`
	TextValue     *string      `gorm:"type:text"`
	Currency      *string      `gorm:"type:text"`
	EffectiveFrom time.Time    `gorm:"not null;index:idx_config_lookup,priority:3"`
	CreatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "billing_config_entries" }
