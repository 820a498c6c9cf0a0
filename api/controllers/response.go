package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

// orderResponse is the wire shape for one order. Status is always the
// derived canonical value, never the raw column.
type orderResponse struct {
	ID        uuid.UUID  `json:"id"`
	BuyerID   uuid.UUID  `json:"buyer_id"`
	SellerID  uuid.UUID  `json:"seller_id"`
	ListingID uuid.UUID  `json:"listing_id"`
	OfferID   *uuid.UUID `json:"offer_id,omitempty"`

	Currency         enums.Currency `json:"currency"`
	GrossCents       int            `json:"gross_cents"`
	PlatformFeeCents int            `json:"platform_fee_cents"`
	SellerNetCents   int            `json:"seller_net_cents"`

	Status       enums.TransactionStatus   `json:"status"`
	NextStatuses []enums.TransactionStatus `json:"next_statuses"`

	TransportMode enums.TransportMode    `json:"transport_mode"`
	Pickup        *types.PickupDetails   `json:"pickup,omitempty"`
	Delivery      *types.DeliveryDetails `json:"delivery,omitempty"`

	PaidAt            *time.Time `json:"paid_at,omitempty"`
	FulfillStartBy    *time.Time `json:"fulfill_start_by,omitempty"`
	FulfillCompleteBy *time.Time `json:"fulfill_complete_by,omitempty"`

	DisputeOpen       bool                     `json:"dispute_open"`
	DisputeReason     *string                  `json:"dispute_reason,omitempty"`
	DisputeResolution *enums.DisputeResolution `json:"dispute_resolution,omitempty"`

	RefundStatus  enums.RefundStatus `json:"refund_status"`
	RefundedCents int                `json:"refunded_cents"`

	AdminNotes *string    `json:"admin_notes,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newOrderResponse(view orders.View) orderResponse {
	order := view.Order
	pickup := order.Pickup
	if pickup != nil {
		// The confirmation code is server-side only.
		masked := *pickup
		masked.ConfirmationCode = ""
		pickup = &masked
	}
	return orderResponse{
		ID:                order.ID,
		BuyerID:           order.BuyerID,
		SellerID:          order.SellerID,
		ListingID:         order.ListingID,
		OfferID:           order.OfferID,
		Currency:          order.Currency,
		GrossCents:        order.GrossCents,
		PlatformFeeCents:  order.PlatformFeeCents,
		SellerNetCents:    order.SellerNetCents,
		Status:            view.Status,
		NextStatuses:      view.NextStatuses,
		TransportMode:     order.TransportMode,
		Pickup:            pickup,
		Delivery:          order.Delivery,
		PaidAt:            order.PaidAt,
		FulfillStartBy:    order.FulfillStartBy,
		FulfillCompleteBy: order.FulfillCompleteBy,
		DisputeOpen:       order.DisputeOpen,
		DisputeReason:     order.DisputeReason,
		DisputeResolution: order.DisputeResolution,
		RefundStatus:      order.RefundStatus,
		RefundedCents:     order.RefundedCents,
		AdminNotes:        order.AdminNotes,
		ReviewedAt:        order.ReviewedAt,
		CompletedAt:       order.CompletedAt,
		RefundedAt:        order.RefundedAt,
		CancelledAt:       order.CancelledAt,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}
