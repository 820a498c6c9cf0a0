package types

import "time"

// TimeWindow is a half-open interval a seller offers for pickup.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Equal reports whether two windows cover the same interval.
func (w TimeWindow) Equal(other TimeWindow) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// PickupDetails is populated only on buyer-pickup orders.
type PickupDetails struct {
	Location         string       `json:"location"`
	OfferedWindows   []TimeWindow `json:"offered_windows"`
	SelectedWindow   *TimeWindow  `json:"selected_window,omitempty"`
	ConfirmationCode string       `json:"confirmation_code"`
	ConfirmedAt      *time.Time   `json:"confirmed_at,omitempty"`
}

// DeliveryDetails is populated only on carrier-delivery orders.
type DeliveryDetails struct {
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
	Carrier          string     `json:"carrier,omitempty"`
	TrackingRef      string     `json:"tracking_ref,omitempty"`
	ProofRefs        []string   `json:"proof_refs,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	BuyerConfirmedAt *time.Time `json:"buyer_confirmed_at,omitempty"`
}
