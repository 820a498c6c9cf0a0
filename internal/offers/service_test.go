package offers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

type stubOfferRepo struct {
	offer *models.Offer
}

func (s *stubOfferRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOfferRepo) Create(ctx context.Context, offer *models.Offer) (*models.Offer, error) {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	s.offer = offer
	return offer, nil
}

func (s *stubOfferRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	if s.offer == nil || s.offer.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.offer
	return &copied, nil
}

func (s *stubOfferRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OfferStatus, updates map[string]any) (int64, error) {
	if s.offer == nil || s.offer.ID != id || s.offer.Status != from {
		return 0, nil
	}
	for key, value := range updates {
		switch key {
		case "amount_cents":
			if v, ok := value.(int); ok {
				s.offer.AmountCents = v
			}
		case "history":
			if v, ok := value.(types.OfferHistory); ok {
				s.offer.History = v
			}
		case "expires_at":
			if v, ok := value.(time.Time); ok {
				s.offer.ExpiresAt = v
			}
		case "accepted_at":
			if v, ok := value.(time.Time); ok {
				s.offer.AcceptedAt = &v
			}
		case "payment_window_end":
			if v, ok := value.(time.Time); ok {
				s.offer.PaymentWindowEnd = &v
			}
		}
	}
	s.offer.Status = to
	return 1, nil
}

func (s *stubOfferRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	panic("not implemented")
}

func (s *stubOfferRepo) ListPaymentWindowLapsed(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	panic("not implemented")
}

type stubListingRepo struct {
	listing *models.Listing
}

func (s *stubListingRepo) WithTx(tx *gorm.DB) listings.Repository { return s }

func (s *stubListingRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if s.listing == nil || s.listing.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.listing
	return &copied, nil
}

func (s *stubListingRepo) Reserve(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error) {
	if s.listing == nil || s.listing.ID != listingID {
		return 0, nil
	}
	if s.listing.ReservedByOfferID != nil || s.listing.SoldAt != nil {
		return 0, nil
	}
	s.listing.ReservedByOfferID = &offerID
	s.listing.ReservedAt = &now
	return 1, nil
}

func (s *stubListingRepo) ReleaseReservation(ctx context.Context, listingID, offerID uuid.UUID) (int64, error) {
	panic("not implemented")
}

func (s *stubListingRepo) MarkSold(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error) {
	panic("not implemented")
}

type stubOrderWriter struct {
	created *models.Order
}

func (s *stubOrderWriter) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrderWriter) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	s.created = order
	return order, nil
}

func (s *stubOrderWriter) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) FindByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) NormalizeStatus(ctx context.Context, id uuid.UUID, derived enums.TransactionStatus) error {
	panic("not implemented")
}

func (s *stubOrderWriter) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (int64, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) UpdateGuarded(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, updates map[string]any) (int64, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) ClaimRefundMarker(ctx context.Context, id uuid.UUID, now, reclaimBefore time.Time) (int64, error) {
	panic("not implemented")
}

func (s *stubOrderWriter) ClearRefundMarker(ctx context.Context, id uuid.UUID) error {
	panic("not implemented")
}

func (s *stubOrderWriter) ListFulfillmentOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	panic("not implemented")
}

type stubEmitter struct {
	events []notifications.Event
}

func (s *stubEmitter) EmitTx(ctx context.Context, tx *gorm.DB, event notifications.Event) error {
	s.events = append(s.events, event)
	return nil
}

type nilTxRunner struct{}

func (nilTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type offerServiceTest struct {
	offers    *stubOfferRepo
	listings  *stubListingRepo
	orders    *stubOrderWriter
	emitter   *stubEmitter
	svc       Service
	now       time.Time
	listingID uuid.UUID
	sellerID  uuid.UUID
	buyerID   uuid.UUID
}

func newOfferServiceTest(t *testing.T) *offerServiceTest {
	t.Helper()
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	h := &offerServiceTest{
		offers:   &stubOfferRepo{},
		listings: &stubListingRepo{},
		orders:   &stubOrderWriter{},
		emitter:  &stubEmitter{},
		now:      now,
		sellerID: uuid.New(),
		buyerID:  uuid.New(),
	}
	h.listingID = uuid.New()
	h.listings.listing = &models.Listing{
		ID:         h.listingID,
		SellerID:   h.sellerID,
		Title:      "vintage camera",
		PriceCents: 15000,
		Currency:   enums.CurrencyUSD,
	}
	svc, err := NewService(ServiceParams{
		Repo:     h.offers,
		Listings: h.listings,
		Orders:   h.orders,
		Tx:       nilTxRunner{},
		Notifier: h.emitter,
		Config: Config{
			PaymentWindow:  30 * time.Minute,
			DefaultTTL:     48 * time.Hour,
			PlatformFeeBps: 250,
		},
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	h.svc = svc
	return h
}

func (h *offerServiceTest) openOffer(amountCents int) *models.Offer {
	offer := &models.Offer{
		ID:          uuid.New(),
		ListingID:   h.listingID,
		BuyerID:     h.buyerID,
		SellerID:    h.sellerID,
		Status:      enums.OfferStatusOpen,
		AmountCents: amountCents,
		Currency:    enums.CurrencyUSD,
		ExpiresAt:   h.now.Add(48 * time.Hour),
		History: types.OfferHistory{{
			Action:    "created",
			ActorRole: "buyer",
			At:        h.now.Add(-time.Hour),
		}},
	}
	h.offers.offer = offer
	return offer
}

func TestCreateOffer(t *testing.T) {
	helper := newOfferServiceTest(t)

	offer, err := helper.svc.Create(context.Background(), CreateInput{
		ListingID:   helper.listingID,
		Actor:       orders.Actor{UserID: helper.buyerID, Role: enums.ActorRoleBuyer},
		AmountCents: 12000,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if offer.Status != enums.OfferStatusOpen {
		t.Fatalf("unexpected status %s", offer.Status)
	}
	if offer.SellerID != helper.sellerID || offer.BuyerID != helper.buyerID {
		t.Fatal("offer parties not taken from the listing")
	}
	if !offer.ExpiresAt.Equal(helper.now.Add(48 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", offer.ExpiresAt)
	}
	if len(offer.History) != 1 || offer.History[0].Action != "created" {
		t.Fatalf("unexpected history %+v", offer.History)
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != helper.sellerID {
		t.Fatalf("expected seller notification, got %+v", helper.emitter.events)
	}
}

func TestCreateOffer_onOwnListing(t *testing.T) {
	helper := newOfferServiceTest(t)

	_, err := helper.svc.Create(context.Background(), CreateInput{
		ListingID:   helper.listingID,
		Actor:       orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleBuyer},
		AmountCents: 12000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR got %v", err)
	}
}

func TestCreateOffer_onSoldListing(t *testing.T) {
	helper := newOfferServiceTest(t)
	sold := helper.now.Add(-time.Hour)
	helper.listings.listing.SoldAt = &sold

	_, err := helper.svc.Create(context.Background(), CreateInput{
		ListingID:   helper.listingID,
		Actor:       orders.Actor{UserID: helper.buyerID, Role: enums.ActorRoleBuyer},
		AmountCents: 12000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT got %v", err)
	}
}

func TestCreateOffer_sellerRoleForbidden(t *testing.T) {
	helper := newOfferServiceTest(t)

	_, err := helper.svc.Create(context.Background(), CreateInput{
		ListingID:   helper.listingID,
		Actor:       orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleSeller},
		AmountCents: 12000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestCounterOffer(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)

	err := helper.svc.Counter(context.Background(), CounterInput{
		OfferID:     offer.ID,
		Actor:       orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleSeller},
		AmountCents: 14000,
		Note:        "lens alone is worth that",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.offers.offer.Status != enums.OfferStatusCountered {
		t.Fatalf("unexpected status %s", helper.offers.offer.Status)
	}
	if helper.offers.offer.AmountCents != 14000 {
		t.Fatalf("counter must replace the standing amount, got %d", helper.offers.offer.AmountCents)
	}
	if len(helper.offers.offer.History) != 2 || helper.offers.offer.History[1].Action != "countered" {
		t.Fatalf("unexpected history %+v", helper.offers.offer.History)
	}
	if !helper.offers.offer.ExpiresAt.Equal(helper.now.Add(48 * time.Hour)) {
		t.Fatal("counter must restart the expiry clock")
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != helper.buyerID {
		t.Fatalf("expected buyer notification, got %+v", helper.emitter.events)
	}
}

func TestCounterOffer_byBuyerForbidden(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)

	err := helper.svc.Counter(context.Background(), CounterInput{
		OfferID:     offer.ID,
		Actor:       orders.Actor{UserID: helper.buyerID, Role: enums.ActorRoleBuyer},
		AmountCents: 11000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestCounterOffer_afterAcceptance(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)
	offer.Status = enums.OfferStatusAccepted

	err := helper.svc.Counter(context.Background(), CounterInput{
		OfferID:     offer.ID,
		Actor:       orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleSeller},
		AmountCents: 14000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT got %v", err)
	}
}

func TestAcceptOffer_bySeller(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(10000)

	order, err := helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleSeller},
		TransportMode: enums.TransportModeCarrierDelivery,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if helper.offers.offer.Status != enums.OfferStatusAccepted {
		t.Fatalf("unexpected offer status %s", helper.offers.offer.Status)
	}
	if helper.offers.offer.PaymentWindowEnd == nil || !helper.offers.offer.PaymentWindowEnd.Equal(helper.now.Add(30*time.Minute)) {
		t.Fatalf("unexpected payment window %v", helper.offers.offer.PaymentWindowEnd)
	}
	if helper.listings.listing.ReservedByOfferID == nil || *helper.listings.listing.ReservedByOfferID != offer.ID {
		t.Fatal("listing must be reserved for the accepted offer")
	}

	if order.Status != enums.TransactionStatusPendingPayment {
		t.Fatalf("unexpected order status %s", order.Status)
	}
	if order.GrossCents != 10000 {
		t.Fatalf("unexpected gross %d", order.GrossCents)
	}
	if order.PlatformFeeCents != 250 {
		t.Fatalf("unexpected platform fee %d", order.PlatformFeeCents)
	}
	if order.SellerNetCents != 9750 {
		t.Fatalf("unexpected seller net %d", order.SellerNetCents)
	}
	if order.OfferID == nil || *order.OfferID != offer.ID {
		t.Fatal("order must reference the offer")
	}
	if order.TransportMode != enums.TransportModeCarrierDelivery {
		t.Fatalf("unexpected transport mode %s", order.TransportMode)
	}

	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != helper.buyerID {
		t.Fatalf("expected buyer notification, got %+v", helper.emitter.events)
	}
}

func TestAcceptOffer_counteredByBuyer(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)
	offer.Status = enums.OfferStatusCountered
	offer.AmountCents = 14000

	order, err := helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: helper.buyerID, Role: enums.ActorRoleBuyer},
		TransportMode: enums.TransportModeBuyerPickup,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if order.GrossCents != 14000 {
		t.Fatalf("acceptance must settle on the countered amount, got %d", order.GrossCents)
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != helper.sellerID {
		t.Fatalf("expected seller notification, got %+v", helper.emitter.events)
	}
}

func TestAcceptOffer_buyerCannotAcceptOwnOffer(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)

	_, err := helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: helper.buyerID, Role: enums.ActorRoleBuyer},
		TransportMode: enums.TransportModeCarrierDelivery,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestAcceptOffer_listingAlreadyReserved(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)
	otherOffer := uuid.New()
	helper.listings.listing.ReservedByOfferID = &otherOffer

	_, err := helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleSeller},
		TransportMode: enums.TransportModeCarrierDelivery,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT got %v", err)
	}
	if helper.offers.offer.Status != enums.OfferStatusOpen {
		t.Fatal("a failed acceptance must leave the offer open")
	}
}

func TestAcceptOffer_expiredOffer(t *testing.T) {
	helper := newOfferServiceTest(t)
	offer := helper.openOffer(12000)
	offer.Status = enums.OfferStatusExpired

	// A non-admin never reaches the status check on an expired offer.
	_, err := helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: helper.sellerID, Role: enums.ActorRoleSeller},
		TransportMode: enums.TransportModeCarrierDelivery,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}

	_, err = helper.svc.Accept(context.Background(), AcceptInput{
		OfferID:       offer.ID,
		Actor:         orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
		TransportMode: enums.TransportModeCarrierDelivery,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT got %v", err)
	}
}

func TestPlatformFee(t *testing.T) {
	cases := []struct {
		amount int
		bps    int
		want   int
	}{
		{10000, 250, 250},
		{9999, 250, 250}, // 249.975 rounds half-up
		{100, 250, 3},    // 2.5 rounds half-up
		{10000, 0, 0},
		{1, 250, 0}, // 0.025 rounds down
	}
	for _, tc := range cases {
		if got := platformFee(tc.amount, tc.bps); got != tc.want {
			t.Fatalf("platformFee(%d, %d) = %d, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}
