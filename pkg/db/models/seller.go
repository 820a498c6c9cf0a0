package models

import (
	"time"

	"github.com/google/uuid"
)

// Seller holds the compliance state the lifecycle mutates: repeated SLA
// breaches mark the seller non-compliant and an admin can freeze payouts.
type Seller struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`

	DisplayName string `gorm:"column:display_name;not null"`

	NoncomplianceCount int        `gorm:"column:noncompliance_count;not null;default:0"`
	PayoutsFrozen      bool       `gorm:"column:payouts_frozen;not null;default:false"`
	FrozenAt           *time.Time `gorm:"column:frozen_at"`
	FrozenReason       *string    `gorm:"column:frozen_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
