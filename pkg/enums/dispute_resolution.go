package enums

import "fmt"

// DisputeResolution is the administrative outcome applied to an open dispute.
type DisputeResolution string

const (
	DisputeResolutionUphold         DisputeResolution = "uphold"
	DisputeResolutionReverse        DisputeResolution = "reverse"
	DisputeResolutionPartialReverse DisputeResolution = "partial_reverse"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionUphold,
	DisputeResolutionReverse,
	DisputeResolutionPartialReverse,
}

// String implements fmt.Stringer.
func (d DisputeResolution) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeResolution.
func (d DisputeResolution) IsValid() bool {
	for _, candidate := range validDisputeResolutions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	for _, candidate := range validDisputeResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute resolution %q", value)
}
