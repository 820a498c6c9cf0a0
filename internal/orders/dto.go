package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

// Actor identifies who is performing a mutation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// AttachPaymentInput links the gateway payment the buyer's client created to
// its order so later webhooks can resolve it.
type AttachPaymentInput struct {
	OrderID          uuid.UUID
	Actor            Actor
	GatewayPaymentID string
}

// ConfirmPaymentInput carries the fields extracted from a completed payment event.
type ConfirmPaymentInput struct {
	GatewayPaymentID string
	PaidAt           time.Time
}

// ScheduleDeliveryInput sets the carrier plan on a delivery order.
type ScheduleDeliveryInput struct {
	OrderID          uuid.UUID
	Actor            Actor
	EstimatedArrival time.Time
	Carrier          string
	TrackingRef      string
}

// MarkOutForDeliveryInput flags the parcel as in transit.
type MarkOutForDeliveryInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// MarkDeliveredInput records delivery with optional proof references.
type MarkDeliveredInput struct {
	OrderID   uuid.UUID
	Actor     Actor
	ProofRefs []string
}

// ConfirmReceiptInput closes out a delivery order from the buyer side.
type ConfirmReceiptInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// SetPickupInfoInput publishes the pickup location, windows, and code.
type SetPickupInfoInput struct {
	OrderID          uuid.UUID
	Actor            Actor
	Location         string
	OfferedWindows   []types.TimeWindow
	ConfirmationCode string
}

// SelectPickupWindowInput records the buyer's chosen window.
type SelectPickupWindowInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Window  types.TimeWindow
}

// ConfirmPickupInput completes a pickup order against the confirmation code.
type ConfirmPickupInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Code    string
}

// OpenDisputeInput raises the dispute overlay on a non-terminal order.
type OpenDisputeInput struct {
	OrderID      uuid.UUID
	Actor        Actor
	Reason       string
	EvidenceRefs []string
}

// AdminNoteInput appends reviewer notes to an order.
type AdminNoteInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Note    string
}

// MarkReviewedInput stamps an order as administratively reviewed.
type MarkReviewedInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// View is the read model returned to controllers: the stored row plus the
// derived canonical status and permitted next transitions.
type View struct {
	Order        models.Order
	Status       enums.TransactionStatus
	NextStatuses []enums.TransactionStatus
}

// NewView derives the canonical read model for an order row.
func NewView(order models.Order) View {
	status := DeriveStatus(order)
	return View{
		Order:        order,
		Status:       status,
		NextStatuses: NextStatuses(status),
	}
}
