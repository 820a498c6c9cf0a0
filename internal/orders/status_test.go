package orders

import (
	"testing"
	"time"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

func TestDeriveStatus_canonicalColumnWins(t *testing.T) {
	now := time.Now()
	order := models.Order{
		Status:     enums.TransactionStatusDeliveryScheduled,
		RefundedAt: &now,
		DisputeOpen: true,
	}
	if got := DeriveStatus(order); got != enums.TransactionStatusDeliveryScheduled {
		t.Fatalf("expected canonical column to win, got %s", got)
	}
}

func TestDeriveStatus_legacyFallbacks(t *testing.T) {
	now := time.Now()
	eta := now.Add(48 * time.Hour)
	closed := "closed"
	pending := "pending"

	cases := []struct {
		name  string
		order models.Order
		want  enums.TransactionStatus
	}{
		{
			name:  "refunded timestamp",
			order: models.Order{RefundedAt: &now, CancelledAt: &now},
			want:  enums.TransactionStatusRefunded,
		},
		{
			name:  "cancelled timestamp",
			order: models.Order{CancelledAt: &now, EscrowHeld: true},
			want:  enums.TransactionStatusCancelled,
		},
		{
			name:  "escrow released",
			order: models.Order{EscrowReleased: true, DisputeOpen: true},
			want:  enums.TransactionStatusCompleted,
		},
		{
			name:  "dispute flag",
			order: models.Order{DisputeOpen: true, EscrowHeld: true},
			want:  enums.TransactionStatusDisputeOpened,
		},
		{
			name: "held with pickup confirmed",
			order: models.Order{
				EscrowHeld:    true,
				TransportMode: enums.TransportModeBuyerPickup,
				Pickup:        &types.PickupDetails{Location: "dock 4", ConfirmedAt: &now},
			},
			want: enums.TransactionStatusPickedUp,
		},
		{
			name: "held with window selected",
			order: models.Order{
				EscrowHeld:    true,
				TransportMode: enums.TransportModeBuyerPickup,
				Pickup: &types.PickupDetails{
					Location:       "dock 4",
					SelectedWindow: &types.TimeWindow{Start: now, End: eta},
				},
			},
			want: enums.TransactionStatusPickupScheduled,
		},
		{
			name: "held with pickup location only",
			order: models.Order{
				EscrowHeld:    true,
				TransportMode: enums.TransportModeBuyerPickup,
				Pickup:        &types.PickupDetails{Location: "dock 4"},
			},
			want: enums.TransactionStatusReadyForPickup,
		},
		{
			name: "held with delivered parcel",
			order: models.Order{
				EscrowHeld:    true,
				TransportMode: enums.TransportModeCarrierDelivery,
				Delivery:      &types.DeliveryDetails{EstimatedArrival: &eta, DeliveredAt: &now},
			},
			want: enums.TransactionStatusDeliveredPendingConf,
		},
		{
			name: "held with delivery scheduled",
			order: models.Order{
				EscrowHeld:    true,
				TransportMode: enums.TransportModeCarrierDelivery,
				Delivery:      &types.DeliveryDetails{EstimatedArrival: &eta},
			},
			want: enums.TransactionStatusDeliveryScheduled,
		},
		{
			name: "held awaiting fulfillment",
			order: models.Order{
				EscrowHeld:     true,
				TransportMode:  enums.TransportModeCarrierDelivery,
				FulfillStartBy: &eta,
			},
			want: enums.TransactionStatusFulfillmentRequired,
		},
		{
			name:  "held with nothing else",
			order: models.Order{EscrowHeld: true, TransportMode: enums.TransportModeCarrierDelivery},
			want:  enums.TransactionStatusPaid,
		},
		{
			name:  "legacy closed state",
			order: models.Order{LegacyState: &closed},
			want:  enums.TransactionStatusCancelled,
		},
		{
			name:  "legacy pending state",
			order: models.Order{LegacyState: &pending},
			want:  enums.TransactionStatusPendingPayment,
		},
		{
			name:  "empty row",
			order: models.Order{},
			want:  enums.TransactionStatusPendingPayment,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.order); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from enums.TransactionStatus
		to   enums.TransactionStatus
		want bool
	}{
		{enums.TransactionStatusPendingPayment, enums.TransactionStatusPaid, true},
		{enums.TransactionStatusPendingPayment, enums.TransactionStatusCancelled, true},
		{enums.TransactionStatusPendingPayment, enums.TransactionStatusCompleted, false},
		{enums.TransactionStatusPaid, enums.TransactionStatusFulfillmentRequired, true},
		{enums.TransactionStatusFulfillmentRequired, enums.TransactionStatusReadyForPickup, true},
		{enums.TransactionStatusFulfillmentRequired, enums.TransactionStatusDeliveryScheduled, true},
		{enums.TransactionStatusFulfillmentRequired, enums.TransactionStatusSellerNoncompliant, true},
		{enums.TransactionStatusFulfillmentRequired, enums.TransactionStatusPickedUp, false},
		{enums.TransactionStatusReadyForPickup, enums.TransactionStatusPickupScheduled, true},
		{enums.TransactionStatusPickupScheduled, enums.TransactionStatusCompleted, true},
		{enums.TransactionStatusPickedUp, enums.TransactionStatusCompleted, true},
		{enums.TransactionStatusPickedUp, enums.TransactionStatusCancelled, false},
		{enums.TransactionStatusDeliveryScheduled, enums.TransactionStatusOutForDelivery, true},
		{enums.TransactionStatusOutForDelivery, enums.TransactionStatusDeliveredPendingConf, true},
		{enums.TransactionStatusOutForDelivery, enums.TransactionStatusCancelled, false},
		{enums.TransactionStatusDeliveredPendingConf, enums.TransactionStatusCompleted, true},
		{enums.TransactionStatusDisputeOpened, enums.TransactionStatusCompleted, true},
		{enums.TransactionStatusDisputeOpened, enums.TransactionStatusRefunded, true},
		{enums.TransactionStatusDisputeOpened, enums.TransactionStatusCancelled, false},
		{enums.TransactionStatusSellerNoncompliant, enums.TransactionStatusRefunded, true},
		{enums.TransactionStatusCompleted, enums.TransactionStatusRefunded, false},
		{enums.TransactionStatusRefunded, enums.TransactionStatusCompleted, false},
		{enums.TransactionStatusCancelled, enums.TransactionStatusPaid, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_disputeReachableFromEveryActiveStatus(t *testing.T) {
	active := []enums.TransactionStatus{
		enums.TransactionStatusPaid,
		enums.TransactionStatusFulfillmentRequired,
		enums.TransactionStatusReadyForPickup,
		enums.TransactionStatusPickupScheduled,
		enums.TransactionStatusPickedUp,
		enums.TransactionStatusDeliveryScheduled,
		enums.TransactionStatusOutForDelivery,
		enums.TransactionStatusDeliveredPendingConf,
	}
	for _, from := range active {
		if !CanTransition(from, enums.TransactionStatusDisputeOpened) {
			t.Fatalf("expected dispute to be reachable from %s", from)
		}
	}
}

func TestNextStatuses(t *testing.T) {
	next := NextStatuses(enums.TransactionStatusDeliveredPendingConf)
	if len(next) != 3 {
		t.Fatalf("expected 3 successors, got %d", len(next))
	}
	if next := NextStatuses(enums.TransactionStatusCompleted); next != nil {
		t.Fatalf("expected no successors for a terminal status, got %v", next)
	}

	// mutating the returned slice must not leak into the table
	next[0] = enums.TransactionStatusCancelled
	again := NextStatuses(enums.TransactionStatusDeliveredPendingConf)
	if again[0] == enums.TransactionStatusCancelled {
		t.Fatal("returned slice aliases the transition table")
	}
}

func TestNewView(t *testing.T) {
	eta := time.Now().Add(24 * time.Hour)
	view := NewView(models.Order{
		EscrowHeld:     true,
		TransportMode:  enums.TransportModeCarrierDelivery,
		FulfillStartBy: &eta,
	})
	if view.Status != enums.TransactionStatusFulfillmentRequired {
		t.Fatalf("unexpected derived status %s", view.Status)
	}
	if len(view.NextStatuses) == 0 {
		t.Fatal("expected permitted successors")
	}
}
