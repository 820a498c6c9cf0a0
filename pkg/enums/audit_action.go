package enums

// AuditAction names a state-changing action recorded in the audit trail.
type AuditAction string

const (
	AuditActionPaymentConfirmed    AuditAction = "payment_confirmed"
	AuditActionRefundReconciled    AuditAction = "refund_reconciled"
	AuditActionDeliveryScheduled   AuditAction = "delivery_scheduled"
	AuditActionOutForDelivery      AuditAction = "out_for_delivery"
	AuditActionMarkedDelivered     AuditAction = "marked_delivered"
	AuditActionReceiptConfirmed    AuditAction = "receipt_confirmed"
	AuditActionPickupInfoSet       AuditAction = "pickup_info_set"
	AuditActionPickupWindowChosen  AuditAction = "pickup_window_chosen"
	AuditActionPickupConfirmed     AuditAction = "pickup_confirmed"
	AuditActionDisputeOpened       AuditAction = "dispute_opened"
	AuditActionDisputeResolved     AuditAction = "dispute_resolved"
	AuditActionRefundIssued        AuditAction = "refund_issued"
	AuditActionOfferCreated        AuditAction = "offer_created"
	AuditActionOfferCountered      AuditAction = "offer_countered"
	AuditActionOfferAccepted       AuditAction = "offer_accepted"
	AuditActionOfferExpired        AuditAction = "offer_expired"
	AuditActionReservationReleased AuditAction = "reservation_released"
	AuditActionSellerNoncompliant  AuditAction = "seller_noncompliant"
	AuditActionSellerFrozen        AuditAction = "seller_frozen"
	AuditActionAdminNoted          AuditAction = "admin_noted"
	AuditActionMarkedReviewed      AuditAction = "marked_reviewed"
)

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}
