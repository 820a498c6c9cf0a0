package enums

import "fmt"

// TransactionStatus is the canonical lifecycle status of a marketplace order.
type TransactionStatus string

const (
	TransactionStatusPendingPayment       TransactionStatus = "pending_payment"
	TransactionStatusPaid                 TransactionStatus = "paid"
	TransactionStatusFulfillmentRequired  TransactionStatus = "fulfillment_required"
	TransactionStatusReadyForPickup       TransactionStatus = "ready_for_pickup"
	TransactionStatusPickupScheduled      TransactionStatus = "pickup_scheduled"
	TransactionStatusPickedUp             TransactionStatus = "picked_up"
	TransactionStatusDeliveryScheduled    TransactionStatus = "delivery_scheduled"
	TransactionStatusOutForDelivery       TransactionStatus = "out_for_delivery"
	TransactionStatusDeliveredPendingConf TransactionStatus = "delivered_pending_confirmation"
	TransactionStatusCompleted            TransactionStatus = "completed"
	TransactionStatusDisputeOpened        TransactionStatus = "dispute_opened"
	TransactionStatusSellerNoncompliant   TransactionStatus = "seller_noncompliant"
	TransactionStatusRefunded             TransactionStatus = "refunded"
	TransactionStatusCancelled            TransactionStatus = "cancelled"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPendingPayment,
	TransactionStatusPaid,
	TransactionStatusFulfillmentRequired,
	TransactionStatusReadyForPickup,
	TransactionStatusPickupScheduled,
	TransactionStatusPickedUp,
	TransactionStatusDeliveryScheduled,
	TransactionStatusOutForDelivery,
	TransactionStatusDeliveredPendingConf,
	TransactionStatusCompleted,
	TransactionStatusDisputeOpened,
	TransactionStatusSellerNoncompliant,
	TransactionStatusRefunded,
	TransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusRefunded, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
