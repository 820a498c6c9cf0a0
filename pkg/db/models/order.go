package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

// Order is the aggregate for one marketplace transaction, from payment
// confirmation through fulfillment to completion, dispute, or refund.
//
// Status may be empty on rows written before the canonical column existed;
// callers must derive the effective status through orders.DeriveStatus rather
// than reading the column directly.
type Order struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID   uuid.UUID `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID  uuid.UUID `gorm:"column:seller_id;type:uuid;not null"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null"`
	OfferID   *uuid.UUID `gorm:"column:offer_id;type:uuid"`

	Currency         enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`
	GrossCents       int            `gorm:"column:gross_cents;not null"`
	PlatformFeeCents int            `gorm:"column:platform_fee_cents;not null;default:0"`
	SellerNetCents   int            `gorm:"column:seller_net_cents;not null"`

	Status enums.TransactionStatus `gorm:"column:status;type:text"`

	// Legacy columns retained for rows predating the canonical status field.
	LegacyState    *string `gorm:"column:legacy_state"`
	EscrowHeld     bool    `gorm:"column:escrow_held;not null;default:false"`
	EscrowReleased bool    `gorm:"column:escrow_released;not null;default:false"`

	TransportMode enums.TransportMode    `gorm:"column:transport_mode;type:text;not null"`
	Pickup        *types.PickupDetails   `gorm:"column:pickup;type:jsonb;serializer:json"`
	Delivery      *types.DeliveryDetails `gorm:"column:delivery;type:jsonb;serializer:json"`

	GatewayPaymentID *string    `gorm:"column:gateway_payment_id"`
	PaidAt           *time.Time `gorm:"column:paid_at"`

	FulfillStartBy    *time.Time `gorm:"column:fulfill_start_by"`
	FulfillCompleteBy *time.Time `gorm:"column:fulfill_complete_by"`

	DisputeOpen       bool                     `gorm:"column:dispute_open;not null;default:false"`
	DisputeReason     *string                  `gorm:"column:dispute_reason"`
	DisputeEvidence   []string                 `gorm:"column:dispute_evidence;type:jsonb;serializer:json"`
	DisputeResolution *enums.DisputeResolution `gorm:"column:dispute_resolution;type:text"`

	RefundStatus       enums.RefundStatus `gorm:"column:refund_status;type:text;not null;default:'none'"`
	RefundedCents      int                `gorm:"column:refunded_cents;not null;default:0"`
	RefundInProgressAt *time.Time         `gorm:"column:refund_in_progress_at"`

	AdminNotes *string    `gorm:"column:admin_notes"`
	ReviewedAt *time.Time `gorm:"column:reviewed_at"`

	CompletedAt *time.Time `gorm:"column:completed_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
