package enums

import "fmt"

// OfferStatus tracks the lifecycle of a buyer offer on a listing.
type OfferStatus string

const (
	OfferStatusOpen      OfferStatus = "open"
	OfferStatusCountered OfferStatus = "countered"
	OfferStatusAccepted  OfferStatus = "accepted"
	// OfferStatusConverted marks an accepted offer whose order was paid.
	OfferStatusConverted OfferStatus = "converted"
	OfferStatusExpired   OfferStatus = "expired"
)

var validOfferStatuses = []OfferStatus{
	OfferStatusOpen,
	OfferStatusCountered,
	OfferStatusAccepted,
	OfferStatusConverted,
	OfferStatusExpired,
}

// String implements fmt.Stringer.
func (o OfferStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OfferStatus.
func (o OfferStatus) IsValid() bool {
	for _, candidate := range validOfferStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOfferStatus converts raw input into an OfferStatus.
func ParseOfferStatus(value string) (OfferStatus, error) {
	for _, candidate := range validOfferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid offer status %q", value)
}
