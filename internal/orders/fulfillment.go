package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/outbox"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SLAConfig carries the fulfillment deadline offsets applied at payment time.
type SLAConfig struct {
	StartSLA    time.Duration
	CompleteSLA time.Duration
}

// Service defines the transaction lifecycle operations.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*View, error)

	AttachPayment(ctx context.Context, input AttachPaymentInput) error
	ConfirmPaymentTx(ctx context.Context, tx *gorm.DB, input ConfirmPaymentInput) (*models.Order, error)

	ScheduleDelivery(ctx context.Context, input ScheduleDeliveryInput) error
	MarkOutForDelivery(ctx context.Context, input MarkOutForDeliveryInput) error
	MarkDelivered(ctx context.Context, input MarkDeliveredInput) error
	ConfirmReceipt(ctx context.Context, input ConfirmReceiptInput) error

	SetPickupInfo(ctx context.Context, input SetPickupInfoInput) error
	SelectPickupWindow(ctx context.Context, input SelectPickupWindowInput) error
	ConfirmPickup(ctx context.Context, input ConfirmPickupInput) error

	OpenDispute(ctx context.Context, input OpenDisputeInput) error

	AddAdminNote(ctx context.Context, input AdminNoteInput) error
	MarkReviewed(ctx context.Context, input MarkReviewedInput) error
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Notifier notifications.Emitter
	Audit    *audit.Recorder
	SLA      SLAConfig
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier notifications.Emitter
	audit    *audit.Recorder
	sla      SLAConfig
	now      func() time.Time
}

// NewService builds the order lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notification emitter required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder required")
	}
	if params.SLA.StartSLA <= 0 || params.SLA.CompleteSLA <= 0 {
		return nil, errors.New("sla offsets required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		notifier: params.Notifier,
		audit:    params.Audit,
		sla:      params.SLA,
		now:      params.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*View, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	view := NewView(*order)
	return &view, nil
}

// AttachPayment records the gateway payment id on a pending order. The write
// is guarded so a second attach with a different id fails instead of
// silently repointing the order at another payment.
func (s *service) AttachPayment(ctx context.Context, input AttachPaymentInput) error {
	if strings.TrimSpace(input.GatewayPaymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if input.Actor.Role != enums.ActorRoleAdmin {
			if input.Actor.Role != enums.ActorRoleBuyer || input.Actor.UserID != order.BuyerID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "buyer action on another party's order")
			}
		}
		if order.GatewayPaymentID != nil {
			if *order.GatewayPaymentID == input.GatewayPaymentID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a different payment attached")
		}
		if status != enums.TransactionStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot attach payment to a %s order", status))
		}
		paymentID := input.GatewayPaymentID
		affected, err := repo.UpdateGuarded(ctx, order.ID, status, map[string]any{
			"gateway_payment_id": &paymentID,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		return nil
	})
}

// ConfirmPaymentTx applies a confirmed payment inside the caller's
// transaction: PENDING_PAYMENT -> PAID -> FULFILLMENT_REQUIRED with both SLA
// deadlines stamped. Re-applying to an order already past PENDING_PAYMENT is
// a no-op so replayed webhooks converge.
func (s *service) ConfirmPaymentTx(ctx context.Context, tx *gorm.DB, input ConfirmPaymentInput) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if strings.TrimSpace(input.GatewayPaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByGatewayPaymentID(ctx, input.GatewayPaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment")
		}
		return nil, err
	}

	status, err := s.normalize(ctx, repo, order)
	if err != nil {
		return nil, err
	}
	if status != enums.TransactionStatusPendingPayment {
		// Already confirmed by an earlier delivery of the same event.
		return order, nil
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	affected, err := repo.TransitionStatus(ctx, order.ID, status, enums.TransactionStatusFulfillmentRequired, map[string]any{
		"paid_at":             paidAt,
		"escrow_held":         true,
		"fulfill_start_by":    paidAt.Add(s.sla.StartSLA),
		"fulfill_complete_by": paidAt.Add(s.sla.CompleteSLA),
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.reinspect(ctx, repo, order.ID, enums.TransactionStatusFulfillmentRequired)
	}

	from := status
	to := enums.TransactionStatusFulfillmentRequired
	if err := s.audit.RecordTx(tx, audit.Entry{
		EntityType: enums.AggregateOrder,
		EntityID:   order.ID,
		Action:     enums.AuditActionPaymentConfirmed,
		ActorRole:  enums.ActorRoleSystem,
		FromStatus: &from,
		ToStatus:   &to,
	}); err != nil {
		return nil, err
	}
	if err := s.notifier.EmitTx(ctx, tx, notifications.Event{
		Type:         enums.EventOrderPaid,
		TargetUserID: order.SellerID,
		EntityType:   enums.AggregateOrder,
		EntityID:     order.ID,
	}); err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, order.ID)
}

func (s *service) ScheduleDelivery(ctx context.Context, input ScheduleDeliveryInput) error {
	if input.EstimatedArrival.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "estimated arrival required")
	}
	if strings.TrimSpace(input.Carrier) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "carrier required")
	}
	return s.transition(ctx, transitionRequest{
		orderID:       input.OrderID,
		actor:         input.Actor,
		requireSeller: true,
		transport:     enums.TransportModeCarrierDelivery,
		from:          []enums.TransactionStatus{enums.TransactionStatusFulfillmentRequired},
		to:            enums.TransactionStatusDeliveryScheduled,
		action:        enums.AuditActionDeliveryScheduled,
		event:         enums.EventDeliveryScheduled,
		notifyBuyer:   true,
		alreadyApplied: func(order models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusDeliveryScheduled &&
				order.Delivery != nil &&
				order.Delivery.EstimatedArrival != nil &&
				order.Delivery.EstimatedArrival.Equal(input.EstimatedArrival)
		},
		mutate: func(order models.Order) (map[string]any, error) {
			eta := input.EstimatedArrival
			delivery := &types.DeliveryDetails{
				EstimatedArrival: &eta,
				Carrier:          input.Carrier,
				TrackingRef:      input.TrackingRef,
			}
			return map[string]any{"delivery": delivery}, nil
		},
	})
}

func (s *service) MarkOutForDelivery(ctx context.Context, input MarkOutForDeliveryInput) error {
	return s.transition(ctx, transitionRequest{
		orderID:       input.OrderID,
		actor:         input.Actor,
		requireSeller: true,
		transport:     enums.TransportModeCarrierDelivery,
		from:          []enums.TransactionStatus{enums.TransactionStatusDeliveryScheduled},
		to:            enums.TransactionStatusOutForDelivery,
		action:        enums.AuditActionOutForDelivery,
		event:         enums.EventOrderStateChanged,
		notifyBuyer:   true,
		alreadyApplied: func(_ models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusOutForDelivery
		},
	})
}

func (s *service) MarkDelivered(ctx context.Context, input MarkDeliveredInput) error {
	return s.transition(ctx, transitionRequest{
		orderID:       input.OrderID,
		actor:         input.Actor,
		requireSeller: true,
		transport:     enums.TransportModeCarrierDelivery,
		from: []enums.TransactionStatus{
			enums.TransactionStatusDeliveryScheduled,
			enums.TransactionStatusOutForDelivery,
		},
		to:          enums.TransactionStatusDeliveredPendingConf,
		action:      enums.AuditActionMarkedDelivered,
		event:       enums.EventDeliveredPendingConf,
		notifyBuyer: true,
		alreadyApplied: func(_ models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusDeliveredPendingConf
		},
		mutate: func(order models.Order) (map[string]any, error) {
			delivery := order.Delivery
			if delivery == nil {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery not scheduled")
			}
			now := s.now()
			updated := *delivery
			updated.DeliveredAt = &now
			if len(input.ProofRefs) > 0 {
				updated.ProofRefs = append(updated.ProofRefs, input.ProofRefs...)
			}
			return map[string]any{"delivery": &updated}, nil
		},
	})
}

func (s *service) ConfirmReceipt(ctx context.Context, input ConfirmReceiptInput) error {
	return s.transition(ctx, transitionRequest{
		orderID:      input.OrderID,
		actor:        input.Actor,
		requireBuyer: true,
		transport:    enums.TransportModeCarrierDelivery,
		from:         []enums.TransactionStatus{enums.TransactionStatusDeliveredPendingConf},
		to:           enums.TransactionStatusCompleted,
		action:       enums.AuditActionReceiptConfirmed,
		event:        enums.EventOrderCompleted,
		notifySeller: true,
		alreadyApplied: func(_ models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusCompleted
		},
		mutate: func(order models.Order) (map[string]any, error) {
			delivery := order.Delivery
			if delivery == nil {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery not recorded")
			}
			now := s.now()
			updated := *delivery
			updated.BuyerConfirmedAt = &now
			return map[string]any{
				"delivery":        &updated,
				"completed_at":    now,
				"escrow_released": true,
			}, nil
		},
	})
}

func (s *service) SetPickupInfo(ctx context.Context, input SetPickupInfoInput) error {
	if strings.TrimSpace(input.Location) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "pickup location required")
	}
	if len(input.OfferedWindows) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one pickup window required")
	}
	if strings.TrimSpace(input.ConfirmationCode) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "confirmation code required")
	}
	return s.transition(ctx, transitionRequest{
		orderID:       input.OrderID,
		actor:         input.Actor,
		requireSeller: true,
		transport:     enums.TransportModeBuyerPickup,
		from:          []enums.TransactionStatus{enums.TransactionStatusFulfillmentRequired},
		to:            enums.TransactionStatusReadyForPickup,
		action:        enums.AuditActionPickupInfoSet,
		event:         enums.EventPickupReady,
		notifyBuyer:   true,
		alreadyApplied: func(order models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusReadyForPickup &&
				order.Pickup != nil &&
				order.Pickup.Location == input.Location
		},
		mutate: func(_ models.Order) (map[string]any, error) {
			pickup := &types.PickupDetails{
				Location:         input.Location,
				OfferedWindows:   input.OfferedWindows,
				ConfirmationCode: input.ConfirmationCode,
			}
			return map[string]any{"pickup": pickup}, nil
		},
	})
}

func (s *service) SelectPickupWindow(ctx context.Context, input SelectPickupWindowInput) error {
	return s.transition(ctx, transitionRequest{
		orderID:      input.OrderID,
		actor:        input.Actor,
		requireBuyer: true,
		transport:    enums.TransportModeBuyerPickup,
		from:         []enums.TransactionStatus{enums.TransactionStatusReadyForPickup},
		to:           enums.TransactionStatusPickupScheduled,
		action:       enums.AuditActionPickupWindowChosen,
		event:        enums.EventPickupWindowSelected,
		notifySeller: true,
		alreadyApplied: func(order models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusPickupScheduled &&
				order.Pickup != nil &&
				order.Pickup.SelectedWindow != nil &&
				order.Pickup.SelectedWindow.Equal(input.Window)
		},
		mutate: func(order models.Order) (map[string]any, error) {
			pickup := order.Pickup
			if pickup == nil {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pickup info not set")
			}
			offered := false
			for _, w := range pickup.OfferedWindows {
				if w.Equal(input.Window) {
					offered = true
					break
				}
			}
			if !offered {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "window was not offered")
			}
			window := input.Window
			updated := *pickup
			updated.SelectedWindow = &window
			return map[string]any{"pickup": &updated}, nil
		},
	})
}

// ConfirmPickup completes a pickup order. The code comparison happens here,
// server-side, against the stored value; a mismatch is a validation error and
// nothing is written.
func (s *service) ConfirmPickup(ctx context.Context, input ConfirmPickupInput) error {
	if strings.TrimSpace(input.Code) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "confirmation code required")
	}
	return s.transition(ctx, transitionRequest{
		orderID:      input.OrderID,
		actor:        input.Actor,
		requireBuyer: true,
		transport:    enums.TransportModeBuyerPickup,
		from:         []enums.TransactionStatus{enums.TransactionStatusPickupScheduled},
		to:           enums.TransactionStatusCompleted,
		action:       enums.AuditActionPickupConfirmed,
		event:        enums.EventOrderCompleted,
		notifySeller: true,
		alreadyApplied: func(order models.Order, status enums.TransactionStatus) bool {
			return status == enums.TransactionStatusCompleted &&
				order.Pickup != nil &&
				order.Pickup.ConfirmedAt != nil
		},
		mutate: func(order models.Order) (map[string]any, error) {
			pickup := order.Pickup
			if pickup == nil {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pickup info not set")
			}
			if pickup.ConfirmationCode != input.Code {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmation code mismatch")
			}
			now := s.now()
			updated := *pickup
			updated.ConfirmedAt = &now
			return map[string]any{
				"pickup":          &updated,
				"completed_at":    now,
				"escrow_released": true,
			}, nil
		},
	})
}

func (s *service) OpenDispute(ctx context.Context, input OpenDisputeInput) error {
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}
	if input.Actor.Role != enums.ActorRoleBuyer && input.Actor.Role != enums.ActorRoleSeller && input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only a party to the order may open a dispute")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := s.authorizeParty(*order, input.Actor); err != nil {
			return err
		}
		if status == enums.TransactionStatusDisputeOpened {
			return nil
		}
		if status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot dispute a %s order", status))
		}
		if !CanTransition(status, enums.TransactionStatusDisputeOpened) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot dispute from status %s", status))
		}
		reason := input.Reason
		affected, err := repo.TransitionStatus(ctx, order.ID, status, enums.TransactionStatusDisputeOpened, map[string]any{
			"dispute_open":     true,
			"dispute_reason":   &reason,
			"dispute_evidence": input.EvidenceRefs,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.reinspect(ctx, repo, order.ID, enums.TransactionStatusDisputeOpened)
		}
		from := status
		to := enums.TransactionStatusDisputeOpened
		if err := s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     enums.AuditActionDisputeOpened,
			ActorID:    &input.Actor.UserID,
			ActorRole:  input.Actor.Role,
			FromStatus: &from,
			ToStatus:   &to,
			Detail:     &reason,
		}); err != nil {
			return err
		}
		counterparty := order.SellerID
		if input.Actor.Role == enums.ActorRoleSeller {
			counterparty = order.BuyerID
		}
		return s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         enums.EventDisputeOpened,
			TargetUserID: counterparty,
			EntityType:   enums.AggregateOrder,
			EntityID:     order.ID,
			Actor:        actorRef(input.Actor),
		})
	})
}

func (s *service) AddAdminNote(ctx context.Context, input AdminNoteInput) error {
	if input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if strings.TrimSpace(input.Note) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "note required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		notes := input.Note
		if order.AdminNotes != nil && *order.AdminNotes != "" {
			notes = *order.AdminNotes + "\n" + input.Note
		}
		if _, err := repo.UpdateGuarded(ctx, order.ID, status, map[string]any{"admin_notes": &notes}); err != nil {
			return err
		}
		detail := input.Note
		return s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     enums.AuditActionAdminNoted,
			ActorID:    &input.Actor.UserID,
			ActorRole:  input.Actor.Role,
			Detail:     &detail,
		})
	})
}

func (s *service) MarkReviewed(ctx context.Context, input MarkReviewedInput) error {
	if input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.ReviewedAt != nil {
			return nil
		}
		now := s.now()
		if _, err := repo.UpdateGuarded(ctx, order.ID, status, map[string]any{"reviewed_at": now}); err != nil {
			return err
		}
		return s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     enums.AuditActionMarkedReviewed,
			ActorID:    &input.Actor.UserID,
			ActorRole:  input.Actor.Role,
		})
	})
}

// transitionRequest captures one precondition-gated lifecycle step.
type transitionRequest struct {
	orderID        uuid.UUID
	actor          Actor
	requireSeller  bool
	requireBuyer   bool
	transport      enums.TransportMode
	from           []enums.TransactionStatus
	to             enums.TransactionStatus
	action         enums.AuditAction
	event          enums.OutboxEventType
	notifyBuyer    bool
	notifySeller   bool
	alreadyApplied func(order models.Order, status enums.TransactionStatus) bool
	mutate         func(order models.Order) (map[string]any, error)
}

func (s *service) transition(ctx context.Context, req transitionRequest) error {
	if req.orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.load(ctx, repo, req.orderID)
		if err != nil {
			return err
		}
		if err := s.authorize(*order, req); err != nil {
			return err
		}
		if order.TransportMode != req.transport {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("operation requires %s transport", req.transport))
		}
		if req.alreadyApplied != nil && req.alreadyApplied(*order, status) {
			return nil
		}
		if !statusIn(status, req.from) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("transition to %s not allowed from %s", req.to, status))
		}

		updates := map[string]any{}
		if req.mutate != nil {
			updates, err = req.mutate(*order)
			if err != nil {
				return err
			}
		}
		affected, err := repo.TransitionStatus(ctx, order.ID, status, req.to, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.reinspect(ctx, repo, order.ID, req.to)
		}

		from := status
		to := req.to
		if err := s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     req.action,
			ActorID:    &req.actor.UserID,
			ActorRole:  req.actor.Role,
			FromStatus: &from,
			ToStatus:   &to,
		}); err != nil {
			return err
		}
		if req.notifyBuyer {
			if err := s.notifyTx(ctx, tx, req, order.BuyerID, order.ID); err != nil {
				return err
			}
		}
		if req.notifySeller {
			if err := s.notifyTx(ctx, tx, req, order.SellerID, order.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) notifyTx(ctx context.Context, tx *gorm.DB, req transitionRequest, target, orderID uuid.UUID) error {
	return s.notifier.EmitTx(ctx, tx, notifications.Event{
		Type:         req.event,
		TargetUserID: target,
		EntityType:   enums.AggregateOrder,
		EntityID:     orderID,
		Actor:        actorRef(req.actor),
		Payload:      map[string]any{"status": string(req.to)},
	})
}

// load fetches the order and returns its canonical status, persisting the
// derived value on legacy rows so the follow-up compare-and-set has a
// concrete value to gate on.
func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, enums.TransactionStatus, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, "", err
	}
	status, err := s.normalize(ctx, repo, order)
	if err != nil {
		return nil, "", err
	}
	return order, status, nil
}

func (s *service) normalize(ctx context.Context, repo Repository, order *models.Order) (enums.TransactionStatus, error) {
	status := DeriveStatus(*order)
	if order.Status == "" {
		if err := repo.NormalizeStatus(ctx, order.ID, status); err != nil {
			return "", err
		}
		order.Status = status
	}
	return status, nil
}

// reinspect distinguishes a lost compare-and-set race that converged on the
// requested status (idempotent repeat, success) from one that diverged
// (conflict).
func (s *service) reinspect(ctx context.Context, repo Repository, orderID uuid.UUID, wanted enums.TransactionStatus) error {
	current, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if DeriveStatus(*current) == wanted {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
}

func (s *service) authorize(order models.Order, req transitionRequest) error {
	if req.actor.Role == enums.ActorRoleAdmin || req.actor.Role == enums.ActorRoleSystem {
		return nil
	}
	if req.requireSeller {
		if req.actor.Role != enums.ActorRoleSeller || req.actor.UserID != order.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "seller action on another party's order")
		}
	}
	if req.requireBuyer {
		if req.actor.Role != enums.ActorRoleBuyer || req.actor.UserID != order.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "buyer action on another party's order")
		}
	}
	return nil
}

func (s *service) authorizeParty(order models.Order, actor Actor) error {
	if actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem {
		return nil
	}
	if actor.Role == enums.ActorRoleBuyer && actor.UserID == order.BuyerID {
		return nil
	}
	if actor.Role == enums.ActorRoleSeller && actor.UserID == order.SellerID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
}

func statusIn(status enums.TransactionStatus, set []enums.TransactionStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}
