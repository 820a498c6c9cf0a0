package types

import (
	"time"

	"github.com/google/uuid"
)

// OfferHistoryEntry records one state-changing action on an offer.
type OfferHistoryEntry struct {
	Action    string     `json:"action"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	ActorRole string     `json:"actor_role"`
	Amount    *int       `json:"amount_cents,omitempty"`
	Note      string     `json:"note,omitempty"`
	At        time.Time  `json:"at"`
}

// OfferHistory is the append-only action log stored on each offer.
type OfferHistory []OfferHistoryEntry

// Append returns a copy of the history with the entry added; the receiver is
// never mutated so callers can safely retry a transaction with the original.
func (h OfferHistory) Append(entry OfferHistoryEntry) OfferHistory {
	next := make(OfferHistory, 0, len(h)+1)
	next = append(next, h...)
	next = append(next, entry)
	return next
}
