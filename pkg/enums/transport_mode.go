package enums

import "fmt"

// TransportMode selects the fulfillment branch; fixed at checkout, never mutated.
type TransportMode string

const (
	TransportModeCarrierDelivery TransportMode = "carrier_delivery"
	TransportModeBuyerPickup     TransportMode = "buyer_pickup"
)

var validTransportModes = []TransportMode{
	TransportModeCarrierDelivery,
	TransportModeBuyerPickup,
}

// String implements fmt.Stringer.
func (m TransportMode) String() string {
	return string(m)
}

// IsValid reports whether the value is a known TransportMode.
func (m TransportMode) IsValid() bool {
	for _, candidate := range validTransportModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseTransportMode converts raw input into a TransportMode.
func ParseTransportMode(value string) (TransportMode, error) {
	for _, candidate := range validTransportModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transport mode %q", value)
}
