// Package domain contains models for recurring subscription billing.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidTransition    = errors.New("invalid_subscription_transition")
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive         SubscriptionStatus = "ACTIVE"
	SubscriptionStatusRenewalPending SubscriptionStatus = "RENEWAL_PENDING"
	SubscriptionStatusPastDue        SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusPaused         SubscriptionStatus = "PAUSED"
	SubscriptionStatusCanceled       SubscriptionStatus = "CANCELED"
)

// Frequency is the renewal cadence.
type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyAnnual    Frequency = "ANNUAL"
)

// NextPeriodEnd advances from the given period start.
func (f Frequency) NextPeriodEnd(start time.Time) time.Time {
	switch f {
	case FrequencyQuarterly:
		return start.AddDate(0, 3, 0)
	case FrequencyAnnual:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// Subscription is one recurring reading plan. The charge instrument lives
// with the provider; only its reference is stored here.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	AccountID          snowflake.ID       `gorm:"not null;index"`
	PlanName           string             `gorm:"type:text;not null"`
	Provider           string             `gorm:"type:text;not null"`
	InstrumentRef      string             `gorm:"type:text;not null"`
	AmountMinor        int64              `gorm:"not null"`
	Currency           string             `gorm:"type:text;not null"`
	Frequency          Frequency          `gorm:"type:text;not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null;index"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null;index"`
	FailedAttempts     int                `gorm:"not null;default:0"`
	NextRetryAt        *time.Time         `gorm:"index"`
	PendingInvoiceID   *snowflake.ID      `gorm:""`
	PausedAt           *time.Time         `gorm:""`
	CanceledAt         *time.Time         `gorm:""`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
