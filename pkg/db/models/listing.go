package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// Listing carries only the fields the transaction lifecycle touches:
// the reservation pointer set when an offer is accepted and cleared when
// payment lands, the offer lapses, or the sweep reclaims it.
type Listing struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`

	Title      string         `gorm:"column:title;not null"`
	PriceCents int            `gorm:"column:price_cents;not null"`
	Currency   enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`

	ReservedByOfferID *uuid.UUID `gorm:"column:reserved_by_offer_id;type:uuid;index"`
	ReservedAt        *time.Time `gorm:"column:reserved_at"`
	SoldAt            *time.Time `gorm:"column:sold_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
