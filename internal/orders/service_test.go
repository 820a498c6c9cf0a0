package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

type stubOrderRepo struct {
	order         *models.Order
	normalized    int
	forceConflict bool
}

func (s *stubOrderRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrderRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.order
	return &copied, nil
}

func (s *stubOrderRepo) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	if s.order == nil || s.order.GatewayPaymentID == nil || *s.order.GatewayPaymentID != paymentID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.order
	return &copied, nil
}

func (s *stubOrderRepo) FindByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.OfferID == nil || *s.order.OfferID != offerID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.order
	return &copied, nil
}

func (s *stubOrderRepo) NormalizeStatus(ctx context.Context, id uuid.UUID, derived enums.TransactionStatus) error {
	s.normalized++
	if s.order != nil && s.order.ID == id && s.order.Status == "" {
		s.order.Status = derived
	}
	return nil
}

func (s *stubOrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (int64, error) {
	if s.forceConflict {
		return 0, nil
	}
	if s.order == nil || s.order.ID != id || s.order.Status != from {
		return 0, nil
	}
	s.applyUpdates(updates)
	s.order.Status = to
	return 1, nil
}

func (s *stubOrderRepo) UpdateGuarded(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, updates map[string]any) (int64, error) {
	if s.order == nil || s.order.ID != id || s.order.Status != status {
		return 0, nil
	}
	s.applyUpdates(updates)
	return 1, nil
}

func (s *stubOrderRepo) ClaimRefundMarker(ctx context.Context, id uuid.UUID, now, reclaimBefore time.Time) (int64, error) {
	panic("not implemented")
}

func (s *stubOrderRepo) ClearRefundMarker(ctx context.Context, id uuid.UUID) error {
	panic("not implemented")
}

func (s *stubOrderRepo) ListFulfillmentOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	panic("not implemented")
}

func (s *stubOrderRepo) applyUpdates(updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "paid_at":
			if v, ok := value.(time.Time); ok {
				s.order.PaidAt = &v
			}
		case "escrow_held":
			if v, ok := value.(bool); ok {
				s.order.EscrowHeld = v
			}
		case "escrow_released":
			if v, ok := value.(bool); ok {
				s.order.EscrowReleased = v
			}
		case "fulfill_start_by":
			if v, ok := value.(time.Time); ok {
				s.order.FulfillStartBy = &v
			}
		case "fulfill_complete_by":
			if v, ok := value.(time.Time); ok {
				s.order.FulfillCompleteBy = &v
			}
		case "pickup":
			if v, ok := value.(*types.PickupDetails); ok {
				s.order.Pickup = v
			}
		case "delivery":
			if v, ok := value.(*types.DeliveryDetails); ok {
				s.order.Delivery = v
			}
		case "completed_at":
			if v, ok := value.(time.Time); ok {
				s.order.CompletedAt = &v
			}
		case "dispute_open":
			if v, ok := value.(bool); ok {
				s.order.DisputeOpen = v
			}
		case "dispute_reason":
			if v, ok := value.(*string); ok {
				s.order.DisputeReason = v
			}
		case "dispute_evidence":
			if v, ok := value.([]string); ok {
				s.order.DisputeEvidence = v
			}
		case "gateway_payment_id":
			if v, ok := value.(*string); ok {
				s.order.GatewayPaymentID = v
			}
		case "admin_notes":
			if v, ok := value.(*string); ok {
				s.order.AdminNotes = v
			}
		case "reviewed_at":
			if v, ok := value.(time.Time); ok {
				s.order.ReviewedAt = &v
			}
		}
	}
}

type stubEmitter struct {
	events []notifications.Event
	err    error
}

func (s *stubEmitter) EmitTx(ctx context.Context, tx *gorm.DB, event notifications.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type dbTxRunner struct {
	db *gorm.DB
}

func (r dbTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func newAuditDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS audit_entries (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  action TEXT NOT NULL,
  actor_id TEXT,
  actor_role TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT,
  detail TEXT,
  created_at DATETIME
);`
	if err := conn.Exec(schema).Error; err != nil {
		t.Fatalf("create audit table: %v", err)
	}
	return conn
}

type orderServiceTest struct {
	repo    *stubOrderRepo
	emitter *stubEmitter
	db      *gorm.DB
	svc     Service
	now     time.Time
}

func newOrderServiceTest(t *testing.T, order *models.Order) *orderServiceTest {
	t.Helper()
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	repo := &stubOrderRepo{order: order}
	emitter := &stubEmitter{}
	conn := newAuditDB(t)
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Tx:       dbTxRunner{db: conn},
		Notifier: emitter,
		Audit:    audit.NewRecorder(),
		SLA:      SLAConfig{StartSLA: 24 * time.Hour, CompleteSLA: 72 * time.Hour},
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return &orderServiceTest{repo: repo, emitter: emitter, db: conn, svc: svc, now: now}
}

func (h *orderServiceTest) auditTrail(t *testing.T, orderID uuid.UUID) []models.AuditEntry {
	t.Helper()
	rows, err := audit.NewRecorder().ListForOrder(h.db, orderID, 20)
	if err != nil {
		t.Fatalf("list audit trail: %v", err)
	}
	return rows
}

func deliveryOrder(status enums.TransactionStatus) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		ListingID:     uuid.New(),
		GrossCents:    12500,
		Status:        status,
		TransportMode: enums.TransportModeCarrierDelivery,
	}
}

func pickupOrder(status enums.TransactionStatus) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		ListingID:     uuid.New(),
		GrossCents:    9900,
		Status:        status,
		TransportMode: enums.TransportModeBuyerPickup,
	}
}

func TestConfirmPaymentTx(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusPendingPayment)
	paymentID := "sq-payment-123"
	order.GatewayPaymentID = &paymentID
	helper := newOrderServiceTest(t, order)

	err := helper.db.Transaction(func(tx *gorm.DB) error {
		_, err := helper.svc.ConfirmPaymentTx(context.Background(), tx, ConfirmPaymentInput{
			GatewayPaymentID: paymentID,
		})
		return err
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if helper.repo.order.Status != enums.TransactionStatusFulfillmentRequired {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if !helper.repo.order.EscrowHeld {
		t.Fatal("expected escrow to be held")
	}
	if helper.repo.order.FulfillStartBy == nil || !helper.repo.order.FulfillStartBy.Equal(helper.now.Add(24*time.Hour)) {
		t.Fatalf("unexpected fulfill_start_by %v", helper.repo.order.FulfillStartBy)
	}
	if helper.repo.order.FulfillCompleteBy == nil || !helper.repo.order.FulfillCompleteBy.Equal(helper.now.Add(72*time.Hour)) {
		t.Fatalf("unexpected fulfill_complete_by %v", helper.repo.order.FulfillCompleteBy)
	}

	if len(helper.emitter.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(helper.emitter.events))
	}
	event := helper.emitter.events[0]
	if event.Type != enums.EventOrderPaid || event.TargetUserID != order.SellerID {
		t.Fatalf("unexpected notification %+v", event)
	}

	trail := helper.auditTrail(t, order.ID)
	if len(trail) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(trail))
	}
	if trail[0].Action != enums.AuditActionPaymentConfirmed {
		t.Fatalf("unexpected audit action %s", trail[0].Action)
	}
	if trail[0].ActorRole != enums.ActorRoleSystem {
		t.Fatalf("unexpected actor role %s", trail[0].ActorRole)
	}
}

func TestConfirmPaymentTx_replayIsNoop(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusFulfillmentRequired)
	paymentID := "sq-payment-123"
	order.GatewayPaymentID = &paymentID
	helper := newOrderServiceTest(t, order)

	err := helper.db.Transaction(func(tx *gorm.DB) error {
		result, err := helper.svc.ConfirmPaymentTx(context.Background(), tx, ConfirmPaymentInput{
			GatewayPaymentID: paymentID,
		})
		if err != nil {
			return err
		}
		if result.ID != order.ID {
			t.Fatalf("expected the existing order back, got %s", result.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(helper.emitter.events) != 0 {
		t.Fatalf("replay must not emit, got %d events", len(helper.emitter.events))
	}
	if len(helper.auditTrail(t, order.ID)) != 0 {
		t.Fatal("replay must not write audit entries")
	}
}

func TestConfirmPaymentTx_unknownPayment(t *testing.T) {
	helper := newOrderServiceTest(t, deliveryOrder(enums.TransactionStatusPendingPayment))
	err := helper.db.Transaction(func(tx *gorm.DB) error {
		_, err := helper.svc.ConfirmPaymentTx(context.Background(), tx, ConfirmPaymentInput{
			GatewayPaymentID: "sq-unknown",
		})
		return err
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND got %v", err)
	}
}

func TestAttachPayment(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusPendingPayment)
	helper := newOrderServiceTest(t, order)
	buyer := Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer}

	err := helper.svc.AttachPayment(context.Background(), AttachPaymentInput{
		OrderID:          order.ID,
		Actor:            buyer,
		GatewayPaymentID: "sq-payment-9",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.repo.order.GatewayPaymentID == nil || *helper.repo.order.GatewayPaymentID != "sq-payment-9" {
		t.Fatalf("payment id not recorded: %v", helper.repo.order.GatewayPaymentID)
	}

	// same id again converges
	err = helper.svc.AttachPayment(context.Background(), AttachPaymentInput{
		OrderID:          order.ID,
		Actor:            buyer,
		GatewayPaymentID: "sq-payment-9",
	})
	if err != nil {
		t.Fatalf("repeat attach should be a no-op, got %v", err)
	}

	// a different id must not repoint the order
	err = helper.svc.AttachPayment(context.Background(), AttachPaymentInput{
		OrderID:          order.ID,
		Actor:            buyer,
		GatewayPaymentID: "sq-payment-10",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT got %v", err)
	}
}

func TestAttachPayment_wrongActor(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusPendingPayment)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.AttachPayment(context.Background(), AttachPaymentInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		GatewayPaymentID: "sq-payment-9",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestScheduleDelivery(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusFulfillmentRequired)
	helper := newOrderServiceTest(t, order)
	eta := helper.now.Add(48 * time.Hour)

	err := helper.svc.ScheduleDelivery(context.Background(), ScheduleDeliveryInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		EstimatedArrival: eta,
		Carrier:          "regional-express",
		TrackingRef:      "RX-991",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusDeliveryScheduled {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if helper.repo.order.Delivery == nil || helper.repo.order.Delivery.Carrier != "regional-express" {
		t.Fatalf("delivery details not recorded: %+v", helper.repo.order.Delivery)
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != order.BuyerID {
		t.Fatalf("expected buyer notification, got %+v", helper.emitter.events)
	}
}

func TestScheduleDelivery_repeatSameEtaConverges(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDeliveryScheduled)
	eta := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	order.Delivery = &types.DeliveryDetails{EstimatedArrival: &eta, Carrier: "regional-express"}
	helper := newOrderServiceTest(t, order)

	err := helper.svc.ScheduleDelivery(context.Background(), ScheduleDeliveryInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		EstimatedArrival: eta,
		Carrier:          "regional-express",
	})
	if err != nil {
		t.Fatalf("expected repeat to converge, got %v", err)
	}
	if len(helper.emitter.events) != 0 {
		t.Fatal("repeat must not emit")
	}
}

func TestScheduleDelivery_wrongTransport(t *testing.T) {
	order := pickupOrder(enums.TransactionStatusFulfillmentRequired)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.ScheduleDelivery(context.Background(), ScheduleDeliveryInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		EstimatedArrival: helper.now.Add(24 * time.Hour),
		Carrier:          "regional-express",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR got %v", err)
	}
}

func TestScheduleDelivery_notSeller(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusFulfillmentRequired)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.ScheduleDelivery(context.Background(), ScheduleDeliveryInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: uuid.New(), Role: enums.ActorRoleSeller},
		EstimatedArrival: helper.now.Add(24 * time.Hour),
		Carrier:          "regional-express",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestScheduleDelivery_lostRaceIsConflict(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusFulfillmentRequired)
	helper := newOrderServiceTest(t, order)
	helper.repo.forceConflict = true

	err := helper.svc.ScheduleDelivery(context.Background(), ScheduleDeliveryInput{
		OrderID:          order.ID,
		Actor:            Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		EstimatedArrival: helper.now.Add(24 * time.Hour),
		Carrier:          "regional-express",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT got %v", err)
	}
}

func TestDeliveryFlowToCompletion(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDeliveryScheduled)
	eta := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	order.Delivery = &types.DeliveryDetails{EstimatedArrival: &eta, Carrier: "regional-express"}
	helper := newOrderServiceTest(t, order)
	seller := Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller}
	buyer := Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer}

	if err := helper.svc.MarkOutForDelivery(context.Background(), MarkOutForDeliveryInput{OrderID: order.ID, Actor: seller}); err != nil {
		t.Fatalf("out for delivery: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusOutForDelivery {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}

	err := helper.svc.MarkDelivered(context.Background(), MarkDeliveredInput{
		OrderID:   order.ID,
		Actor:     seller,
		ProofRefs: []string{"photo-1"},
	})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusDeliveredPendingConf {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if helper.repo.order.Delivery.DeliveredAt == nil {
		t.Fatal("expected delivered timestamp")
	}
	if len(helper.repo.order.Delivery.ProofRefs) != 1 {
		t.Fatalf("expected proof refs, got %v", helper.repo.order.Delivery.ProofRefs)
	}

	if err := helper.svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{OrderID: order.ID, Actor: buyer}); err != nil {
		t.Fatalf("confirm receipt: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if !helper.repo.order.EscrowReleased {
		t.Fatal("expected escrow release on completion")
	}
	if helper.repo.order.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}

	trail := helper.auditTrail(t, order.ID)
	if len(trail) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(trail))
	}
}

func TestConfirmReceipt_sellerForbidden(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDeliveredPendingConf)
	now := time.Now()
	order.Delivery = &types.DeliveryDetails{DeliveredAt: &now}
	helper := newOrderServiceTest(t, order)

	err := helper.svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestPickupFlowToCompletion(t *testing.T) {
	order := pickupOrder(enums.TransactionStatusFulfillmentRequired)
	helper := newOrderServiceTest(t, order)
	seller := Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller}
	buyer := Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer}
	window := types.TimeWindow{Start: helper.now.Add(24 * time.Hour), End: helper.now.Add(26 * time.Hour)}

	err := helper.svc.SetPickupInfo(context.Background(), SetPickupInfoInput{
		OrderID:          order.ID,
		Actor:            seller,
		Location:         "warehouse dock 4",
		OfferedWindows:   []types.TimeWindow{window},
		ConfirmationCode: "731942",
	})
	if err != nil {
		t.Fatalf("set pickup info: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusReadyForPickup {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}

	err = helper.svc.SelectPickupWindow(context.Background(), SelectPickupWindowInput{
		OrderID: order.ID,
		Actor:   buyer,
		Window:  window,
	})
	if err != nil {
		t.Fatalf("select window: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusPickupScheduled {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}

	err = helper.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderID: order.ID,
		Actor:   buyer,
		Code:    "731942",
	})
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if !helper.repo.order.EscrowReleased {
		t.Fatal("expected escrow release on completion")
	}
	if helper.repo.order.Pickup.ConfirmedAt == nil {
		t.Fatal("expected pickup confirmation timestamp")
	}
}

func TestSelectPickupWindow_notOffered(t *testing.T) {
	order := pickupOrder(enums.TransactionStatusReadyForPickup)
	offered := types.TimeWindow{
		Start: time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 15, 11, 0, 0, 0, time.UTC),
	}
	order.Pickup = &types.PickupDetails{
		Location:         "warehouse dock 4",
		OfferedWindows:   []types.TimeWindow{offered},
		ConfirmationCode: "731942",
	}
	helper := newOrderServiceTest(t, order)

	err := helper.svc.SelectPickupWindow(context.Background(), SelectPickupWindowInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Window: types.TimeWindow{
			Start: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 20, 11, 0, 0, 0, time.UTC),
		},
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR got %v", err)
	}
}

func TestConfirmPickup_codeMismatch(t *testing.T) {
	order := pickupOrder(enums.TransactionStatusPickupScheduled)
	window := types.TimeWindow{
		Start: time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 15, 11, 0, 0, 0, time.UTC),
	}
	order.Pickup = &types.PickupDetails{
		Location:         "warehouse dock 4",
		OfferedWindows:   []types.TimeWindow{window},
		SelectedWindow:   &window,
		ConfirmationCode: "731942",
	}
	helper := newOrderServiceTest(t, order)

	err := helper.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Code:    "000000",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR got %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusPickupScheduled {
		t.Fatal("a mismatched code must not change the order")
	}
}

func TestOpenDispute(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDeliveredPendingConf)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.OpenDispute(context.Background(), OpenDisputeInput{
		OrderID:      order.ID,
		Actor:        Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Reason:       "item does not match the listing",
		EvidenceRefs: []string{"photo-2"},
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.repo.order.Status != enums.TransactionStatusDisputeOpened {
		t.Fatalf("unexpected status %s", helper.repo.order.Status)
	}
	if !helper.repo.order.DisputeOpen || helper.repo.order.DisputeReason == nil {
		t.Fatal("expected dispute fields recorded")
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != order.SellerID {
		t.Fatalf("expected counterparty notification, got %+v", helper.emitter.events)
	}

	// reopening is a no-op, not an error
	err = helper.svc.OpenDispute(context.Background(), OpenDisputeInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Reason:  "item does not match the listing",
	})
	if err != nil {
		t.Fatalf("repeat dispute should converge, got %v", err)
	}
	if len(helper.emitter.events) != 1 {
		t.Fatal("repeat must not emit again")
	}
}

func TestOpenDispute_bySellerNotifiesBuyer(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusOutForDelivery)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.OpenDispute(context.Background(), OpenDisputeInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.SellerID, Role: enums.ActorRoleSeller},
		Reason:  "buyer refused handoff",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(helper.emitter.events) != 1 || helper.emitter.events[0].TargetUserID != order.BuyerID {
		t.Fatalf("expected buyer notification, got %+v", helper.emitter.events)
	}
}

func TestOpenDispute_terminalOrder(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusCompleted)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.OpenDispute(context.Background(), OpenDisputeInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Reason:  "too late",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT got %v", err)
	}
}

func TestOpenDispute_strangerForbidden(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusOutForDelivery)
	helper := newOrderServiceTest(t, order)

	err := helper.svc.OpenDispute(context.Background(), OpenDisputeInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
		Reason:  "not my order",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestAddAdminNote(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDisputeOpened)
	helper := newOrderServiceTest(t, order)
	admin := Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	if err := helper.svc.AddAdminNote(context.Background(), AdminNoteInput{OrderID: order.ID, Actor: admin, Note: "first pass"}); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if err := helper.svc.AddAdminNote(context.Background(), AdminNoteInput{OrderID: order.ID, Actor: admin, Note: "second pass"}); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.repo.order.AdminNotes == nil || *helper.repo.order.AdminNotes != "first pass\nsecond pass" {
		t.Fatalf("notes not appended: %v", helper.repo.order.AdminNotes)
	}

	err := helper.svc.AddAdminNote(context.Background(), AdminNoteInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.ActorRoleBuyer},
		Note:    "sneaky",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN got %v", err)
	}
}

func TestMarkReviewed_idempotent(t *testing.T) {
	order := deliveryOrder(enums.TransactionStatusDisputeOpened)
	helper := newOrderServiceTest(t, order)
	admin := Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	if err := helper.svc.MarkReviewed(context.Background(), MarkReviewedInput{OrderID: order.ID, Actor: admin}); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if helper.repo.order.ReviewedAt == nil {
		t.Fatal("expected reviewed timestamp")
	}
	first := *helper.repo.order.ReviewedAt

	if err := helper.svc.MarkReviewed(context.Background(), MarkReviewedInput{OrderID: order.ID, Actor: admin}); err != nil {
		t.Fatalf("repeat should converge, got %v", err)
	}
	if !helper.repo.order.ReviewedAt.Equal(first) {
		t.Fatal("repeat must not overwrite the reviewed timestamp")
	}

	trail := helper.auditTrail(t, order.ID)
	if len(trail) != 1 {
		t.Fatalf("expected a single audit entry, got %d", len(trail))
	}
}

func TestGet_notFound(t *testing.T) {
	helper := newOrderServiceTest(t, nil)
	_, err := helper.svc.Get(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND got %v", err)
	}
}

func TestGet_derivesStatusOnLegacyRow(t *testing.T) {
	order := deliveryOrder("")
	order.EscrowHeld = true
	eta := time.Now().Add(24 * time.Hour)
	order.FulfillStartBy = &eta
	helper := newOrderServiceTest(t, order)

	view, err := helper.svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if view.Status != enums.TransactionStatusFulfillmentRequired {
		t.Fatalf("unexpected derived status %s", view.Status)
	}
}
