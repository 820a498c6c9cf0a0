package orders

import (
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// legacy state values written before the canonical status column existed.
const (
	legacyStatePending = "pending"
	legacyStateActive  = "active"
	legacyStateClosed  = "closed"
)

// DeriveStatus maps a stored order to its canonical status. Rows written
// under the older schema carry only legacy_state plus the escrow flags, so
// the fallback chain infers the status from those and the fulfillment
// sub-objects. Pure function; every reader goes through it so legacy rows
// cannot be interpreted differently by different callers.
func DeriveStatus(order models.Order) enums.TransactionStatus {
	if order.Status != "" {
		return order.Status
	}
	if order.RefundedAt != nil {
		return enums.TransactionStatusRefunded
	}
	if order.CancelledAt != nil {
		return enums.TransactionStatusCancelled
	}
	if order.EscrowReleased {
		return enums.TransactionStatusCompleted
	}
	if order.DisputeOpen {
		return enums.TransactionStatusDisputeOpened
	}
	if order.EscrowHeld {
		return deriveHeldStatus(order)
	}
	if legacy := legacyState(order); legacy == legacyStateClosed {
		return enums.TransactionStatusCancelled
	}
	return enums.TransactionStatusPendingPayment
}

func deriveHeldStatus(order models.Order) enums.TransactionStatus {
	switch order.TransportMode {
	case enums.TransportModeBuyerPickup:
		if p := order.Pickup; p != nil {
			switch {
			case p.ConfirmedAt != nil:
				return enums.TransactionStatusPickedUp
			case p.SelectedWindow != nil:
				return enums.TransactionStatusPickupScheduled
			case p.Location != "":
				return enums.TransactionStatusReadyForPickup
			}
		}
	case enums.TransportModeCarrierDelivery:
		if d := order.Delivery; d != nil {
			switch {
			case d.DeliveredAt != nil:
				return enums.TransactionStatusDeliveredPendingConf
			case d.EstimatedArrival != nil:
				return enums.TransactionStatusDeliveryScheduled
			}
		}
	}
	if order.FulfillStartBy != nil {
		return enums.TransactionStatusFulfillmentRequired
	}
	return enums.TransactionStatusPaid
}

func legacyState(order models.Order) string {
	if order.LegacyState == nil {
		return ""
	}
	return *order.LegacyState
}

// allowedTransitions is the full edge set of the lifecycle. The dispute
// overlay contributes the dispute_opened edge from every non-terminal status.
var allowedTransitions = map[enums.TransactionStatus][]enums.TransactionStatus{
	enums.TransactionStatusPendingPayment: {
		enums.TransactionStatusPaid,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusPaid: {
		enums.TransactionStatusFulfillmentRequired,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusFulfillmentRequired: {
		enums.TransactionStatusReadyForPickup,
		enums.TransactionStatusDeliveryScheduled,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusSellerNoncompliant,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusReadyForPickup: {
		enums.TransactionStatusPickupScheduled,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusSellerNoncompliant,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusPickupScheduled: {
		enums.TransactionStatusPickedUp,
		enums.TransactionStatusCompleted,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusSellerNoncompliant,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusPickedUp: {
		enums.TransactionStatusCompleted,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusRefunded,
	},
	enums.TransactionStatusDeliveryScheduled: {
		enums.TransactionStatusOutForDelivery,
		enums.TransactionStatusDeliveredPendingConf,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusSellerNoncompliant,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusOutForDelivery: {
		enums.TransactionStatusDeliveredPendingConf,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusRefunded,
	},
	enums.TransactionStatusDeliveredPendingConf: {
		enums.TransactionStatusCompleted,
		enums.TransactionStatusDisputeOpened,
		enums.TransactionStatusRefunded,
	},
	enums.TransactionStatusDisputeOpened: {
		enums.TransactionStatusCompleted,
		enums.TransactionStatusRefunded,
	},
	enums.TransactionStatusSellerNoncompliant: {
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Terminal statuses permit nothing.
func CanTransition(from, to enums.TransactionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the permitted successors of the given status.
func NextStatuses(from enums.TransactionStatus) []enums.TransactionStatus {
	if from.IsTerminal() {
		return nil
	}
	next := allowedTransitions[from]
	out := make([]enums.TransactionStatus, len(next))
	copy(out, next)
	return out
}
