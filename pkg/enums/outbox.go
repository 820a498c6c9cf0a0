package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateOffer   OutboxAggregateType = "offer"
	AggregateListing OutboxAggregateType = "listing"
	AggregateSeller  OutboxAggregateType = "seller"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateOffer,
	AggregateListing,
	AggregateSeller,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPaid            OutboxEventType = "order_paid"
	EventOrderStateChanged    OutboxEventType = "order_state_changed"
	EventOrderCompleted       OutboxEventType = "order_completed"
	EventOrderRefunded        OutboxEventType = "order_refunded"
	EventDisputeOpened        OutboxEventType = "dispute_opened"
	EventDisputeResolved      OutboxEventType = "dispute_resolved"
	EventOfferCountered       OutboxEventType = "offer_countered"
	EventOfferAccepted        OutboxEventType = "offer_accepted"
	EventOfferExpired         OutboxEventType = "offer_expired"
	EventReservationReleased  OutboxEventType = "reservation_released"
	EventSellerNoncompliant   OutboxEventType = "seller_noncompliant"
	EventSellerFrozen         OutboxEventType = "seller_frozen"
	EventPickupWindowSelected OutboxEventType = "pickup_window_selected"
	EventPickupReady          OutboxEventType = "pickup_ready"
	EventDeliveryScheduled    OutboxEventType = "delivery_scheduled"
	EventDeliveredPendingConf OutboxEventType = "delivered_pending_confirmation"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderStateChanged,
	EventOrderCompleted,
	EventOrderRefunded,
	EventDisputeOpened,
	EventDisputeResolved,
	EventOfferCountered,
	EventOfferAccepted,
	EventOfferExpired,
	EventReservationReleased,
	EventSellerNoncompliant,
	EventSellerFrozen,
	EventPickupWindowSelected,
	EventPickupReady,
	EventDeliveryScheduled,
	EventDeliveredPendingConf,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
