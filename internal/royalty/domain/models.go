// Package domain contains models for author royalty accrual and payout.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	"gorm.io/datatypes"
)

var (
	ErrInvalidPeriod    = errors.New("invalid_royalty_period")
	ErrImmutablePeriod  = errors.New("immutable_royalty_period")
	ErrRoyaltyNotFound  = errors.New("royalty_not_found")
	ErrNothingPayable   = errors.New("nothing_payable")
	ErrInvalidCorrection = errors.New("invalid_correction")
)

// RoyaltyStatus tracks an accrual from computation to payout.
type RoyaltyStatus string

const (
	// RoyaltyStatusAccrued is below the payout threshold and carries
	// forward into later periods.
	RoyaltyStatusAccrued RoyaltyStatus = "ACCRUED"
	RoyaltyStatusPayable RoyaltyStatus = "PAYABLE"
	RoyaltyStatusPaid    RoyaltyStatus = "PAID"
)

// AuthorRoyalty is one author's earnings for one period and sale kind.
// CorrectionSeq is 0 for the computed row; corrections of a paid period
// append rows with increasing sequence numbers, never touching the
// original. Ref is the externally shared identifier.
type AuthorRoyalty struct {
	ID            snowflake.ID           `gorm:"primaryKey"`
	Ref           string                 `gorm:"type:text;not null;uniqueIndex"`
	AuthorID      snowflake.ID           `gorm:"not null;index;uniqueIndex:ux_author_royalties_scope,priority:1"`
	Period        string                 `gorm:"type:text;not null;uniqueIndex:ux_author_royalties_scope,priority:2"`
	SaleKind      ledgerdomain.SaleKind  `gorm:"type:text;not null;uniqueIndex:ux_author_royalties_scope,priority:3"`
	Currency      string                 `gorm:"type:text;not null;uniqueIndex:ux_author_royalties_scope,priority:4"`
	CorrectionSeq int                    `gorm:"not null;default:0;uniqueIndex:ux_author_royalties_scope,priority:5"`
	GrossBase     int64                  `gorm:"not null"`
	RateApplied   string                 `gorm:"type:text;not null"`
	PayableAmount int64                  `gorm:"not null"`
	Status        RoyaltyStatus          `gorm:"type:text;not null;index"`
	SourceTxns    datatypes.JSON         `gorm:"type:jsonb"`
	CorrectsRef   *string                `gorm:"type:text"`
	Note          string                 `gorm:"type:text"`
	PayoutRef     *string                `gorm:"type:text;index"`
	ComputedAt    time.Time              `gorm:"not null"`
	PaidAt        *time.Time             `gorm:""`
}

// TableName sets the database table name.
func (AuthorRoyalty) TableName() string { return "author_royalties" }
