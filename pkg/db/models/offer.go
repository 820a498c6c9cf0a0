package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

// Offer is a buyer's bid on a listing. Accepting an offer reserves the
// listing and opens a payment window; both the reservation and the window
// are released by the reconciliation sweep if payment never lands.
type Offer struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;index"`
	BuyerID   uuid.UUID `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID  uuid.UUID `gorm:"column:seller_id;type:uuid;not null"`

	Status      enums.OfferStatus `gorm:"column:status;type:text;not null;default:'open'"`
	AmountCents int               `gorm:"column:amount_cents;not null"`
	Currency    enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`

	History types.OfferHistory `gorm:"column:history;type:jsonb;serializer:json"`

	ExpiresAt        time.Time  `gorm:"column:expires_at;not null;index"`
	AcceptedAt       *time.Time `gorm:"column:accepted_at"`
	PaymentWindowEnd *time.Time `gorm:"column:payment_window_end;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
