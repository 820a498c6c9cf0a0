package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/square"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentGateway interface {
	RefundPayment(ctx context.Context, params square.RefundCreateParams) (*sq.PaymentRefund, error)
}

// Kind selects between refunding the full remaining balance or a stated amount.
type Kind string

const (
	KindFull    Kind = "full"
	KindPartial Kind = "partial"
)

// RefundInput describes one refund request.
type RefundInput struct {
	OrderID     uuid.UUID
	Actor       orders.Actor
	Kind        Kind
	AmountCents int64
	Reason      string
}

// ResolveDisputeInput closes an open dispute with one of the three outcomes.
type ResolveDisputeInput struct {
	OrderID     uuid.UUID
	Actor       orders.Actor
	Resolution  enums.DisputeResolution
	AmountCents int64
	Note        string
}

// Service issues refunds and resolves disputes. Both paths hold the
// refund-in-progress marker across the external gateway call so two
// concurrent attempts cannot both reach the gateway.
type Service interface {
	Refund(ctx context.Context, input RefundInput) error
	ResolveDispute(ctx context.Context, input ResolveDisputeInput) error
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Repo          orders.Repository
	Tx            txRunner
	Gateway       paymentGateway
	Notifier      notifications.Emitter
	Audit         *audit.Recorder
	Ledger        *orders.RefundLedger
	Logger        *logger.Logger
	MarkerReclaim time.Duration
	Now           func() time.Time
}

type service struct {
	repo          orders.Repository
	tx            txRunner
	gateway       paymentGateway
	notifier      notifications.Emitter
	audit         *audit.Recorder
	ledger        *orders.RefundLedger
	logg          *logger.Logger
	markerReclaim time.Duration
	now           func() time.Time
}

// NewService builds the refund service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, errors.New("payment gateway required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notification emitter required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder required")
	}
	if params.Ledger == nil {
		return nil, errors.New("refund ledger required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.MarkerReclaim <= 0 {
		return nil, errors.New("marker reclaim window required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		gateway:       params.Gateway,
		notifier:      params.Notifier,
		audit:         params.Audit,
		ledger:        params.Ledger,
		logg:          params.Logger,
		markerReclaim: params.MarkerReclaim,
		now:           params.Now,
	}, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) error {
	if input.Actor.Role != enums.ActorRoleAdmin && input.Actor.Role != enums.ActorRoleSystem {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.Kind != KindFull && input.Kind != KindPartial {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund kind must be full or partial")
	}
	if input.Kind == KindPartial && input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "partial refund amount required")
	}

	order, amount, err := s.claim(ctx, input.OrderID, input.Kind, input.AmountCents)
	if err != nil {
		return err
	}
	return s.execute(ctx, executeParams{
		order:       order,
		amountCents: amount,
		reason:      input.Reason,
		actor:       input.Actor,
		action:      enums.AuditActionRefundIssued,
	})
}

func (s *service) ResolveDispute(ctx context.Context, input ResolveDisputeInput) error {
	if input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	switch input.Resolution {
	case enums.DisputeResolutionUphold:
		return s.resolveUphold(ctx, input)
	case enums.DisputeResolutionReverse:
		return s.resolveWithRefund(ctx, input, KindFull)
	case enums.DisputeResolutionPartialReverse:
		if input.AmountCents <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "partial reversal amount required")
		}
		return s.resolveWithRefund(ctx, input, KindPartial)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid resolution %q", input.Resolution))
	}
}

func (s *service) resolveUphold(ctx context.Context, input ResolveDisputeInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, status, err := s.loadDisputed(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		now := s.now()
		resolution := enums.DisputeResolutionUphold
		affected, err := repo.TransitionStatus(ctx, order.ID, status, enums.TransactionStatusCompleted, map[string]any{
			"dispute_open":       false,
			"dispute_resolution": &resolution,
			"completed_at":       now,
			"escrow_released":    true,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		from := status
		to := enums.TransactionStatusCompleted
		detail := resolutionDetail(input)
		if err := s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     enums.AuditActionDisputeResolved,
			ActorID:    &input.Actor.UserID,
			ActorRole:  input.Actor.Role,
			FromStatus: &from,
			ToStatus:   &to,
			Detail:     &detail,
		}); err != nil {
			return err
		}
		return s.notifyBoth(ctx, tx, *order, enums.EventDisputeResolved, input.Actor)
	})
}

func (s *service) resolveWithRefund(ctx context.Context, input ResolveDisputeInput, kind Kind) error {
	order, amount, err := s.claimDisputed(ctx, input.OrderID, kind, input.AmountCents)
	if err != nil {
		return err
	}
	resolution := input.Resolution
	target := enums.TransactionStatusRefunded
	if kind == KindPartial {
		// A partial reversal refunds only the stated amount and then closes
		// the order in the seller's favor for the remainder.
		target = enums.TransactionStatusCompleted
	}
	return s.execute(ctx, executeParams{
		order:       order,
		amountCents: amount,
		reason:      input.Note,
		actor:       input.Actor,
		action:      enums.AuditActionDisputeResolved,
		toStatus:    target,
		resolution:  &resolution,
	})
}

// claim validates the refund request and sets the refund-in-progress marker
// in one transaction. A caller that loses the marker race gets a retryable
// conflict, never a silent no-op.
func (s *service) claim(ctx context.Context, orderID uuid.UUID, kind Kind, amountCents int64) (*models.Order, int64, error) {
	return s.claimWhere(ctx, orderID, kind, amountCents, nil)
}

func (s *service) claimDisputed(ctx context.Context, orderID uuid.UUID, kind Kind, amountCents int64) (*models.Order, int64, error) {
	check := func(status enums.TransactionStatus) error {
		if status != enums.TransactionStatusDisputeOpened {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no open dispute to resolve")
		}
		return nil
	}
	return s.claimWhere(ctx, orderID, kind, amountCents, check)
}

func (s *service) claimWhere(ctx context.Context, orderID uuid.UUID, kind Kind, amountCents int64, check func(enums.TransactionStatus) error) (*models.Order, int64, error) {
	if orderID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var order *models.Order
	var amount int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		status := orders.DeriveStatus(*found)
		if found.Status == "" {
			if err := repo.NormalizeStatus(ctx, found.ID, status); err != nil {
				return err
			}
			found.Status = status
		}
		if check != nil {
			if err := check(status); err != nil {
				return err
			}
		} else if status == enums.TransactionStatusPendingPayment || status == enums.TransactionStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was never paid")
		} else if status == enums.TransactionStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "completed order accepts no further refunds")
		}
		if found.RefundStatus == enums.RefundStatusFull || status == enums.TransactionStatusRefunded {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already refunded")
		}
		if found.GatewayPaymentID == nil || strings.TrimSpace(*found.GatewayPaymentID) == "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no gateway payment")
		}

		amount, err = s.resolveAmount(*found, kind, amountCents)
		if err != nil {
			return err
		}

		now := s.now()
		claimed, err := repo.ClaimRefundMarker(ctx, found.ID, now, now.Add(-s.markerReclaim))
		if err != nil {
			return err
		}
		if claimed == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund already in progress, retry later")
		}
		order = found
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return order, amount, nil
}

// resolveAmount computes the refundable amount in exact cents. Partial
// amounts must not exceed the unrefunded remainder.
func (s *service) resolveAmount(order models.Order, kind Kind, requestedCents int64) (int64, error) {
	gross := decimal.NewFromInt(int64(order.GrossCents))
	refunded := decimal.NewFromInt(int64(order.RefundedCents))
	remaining := gross.Sub(refunded)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing left to refund")
	}
	if kind == KindFull {
		return remaining.IntPart(), nil
	}
	requested := decimal.NewFromInt(requestedCents)
	if requested.GreaterThan(remaining) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("refund amount exceeds remaining balance of %s cents", remaining.String()))
	}
	return requested.IntPart(), nil
}

type executeParams struct {
	order       *models.Order
	amountCents int64
	reason      string
	actor       orders.Actor
	action      enums.AuditAction
	toStatus    enums.TransactionStatus
	resolution  *enums.DisputeResolution
}

// execute calls the gateway outside any transaction, then applies the result.
// The idempotency key is derived from the order and amount so a retried call
// after a crash lands on the same gateway refund. A zero toStatus means the
// target is recomputed from the order row as it stands when the result is
// applied, so a fulfillment transition landing during the gateway call is not
// clobbered by the pre-call snapshot.
func (s *service) execute(ctx context.Context, params executeParams) error {
	order := params.order
	idempotencyKey := fmt.Sprintf("refund-%s-%d", order.ID, params.amountCents)
	refund, gatewayErr := s.gateway.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      *order.GatewayPaymentID,
		AmountCents:    params.amountCents,
		Currency:       string(order.Currency),
		Reason:         params.reason,
		IdempotencyKey: idempotencyKey,
	})
	if gatewayErr != nil {
		if clearErr := s.repo.ClearRefundMarker(ctx, order.ID); clearErr != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Error(logCtx, "failed to clear refund marker after gateway error", clearErr)
		}
		return gatewayErr
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		recorded, err := s.ledger.RecordTx(tx, &models.GatewayRefund{
			RefundID:    refund.GetID(),
			OrderID:     current.ID,
			AmountCents: int(params.amountCents),
			Status:      refundStatusLabel(refund),
		})
		if err != nil {
			return err
		}
		if !recorded {
			// The webhook (or an earlier attempt) already reconciled this
			// gateway refund; release the marker and stop.
			return repo.ClearRefundMarker(ctx, current.ID)
		}
		status := orders.DeriveStatus(*current)
		refundedCents := current.RefundedCents + int(params.amountCents)
		refundStatus := enums.RefundStatusPartial
		if refundedCents >= current.GrossCents {
			refundStatus = enums.RefundStatusFull
		}
		toStatus := params.toStatus
		if toStatus == "" {
			toStatus = status
			if refundStatus == enums.RefundStatusFull {
				toStatus = enums.TransactionStatusRefunded
			}
		}
		now := s.now()
		updates := map[string]any{
			"refunded_cents":        refundedCents,
			"refund_status":         refundStatus,
			"refund_in_progress_at": nil,
			"dispute_open":          false,
		}
		if params.resolution != nil {
			updates["dispute_resolution"] = params.resolution
		}
		switch toStatus {
		case enums.TransactionStatusRefunded:
			updates["refunded_at"] = now
		case enums.TransactionStatusCompleted:
			updates["completed_at"] = now
			updates["escrow_released"] = true
		}
		affected, err := repo.TransitionStatus(ctx, current.ID, status, toStatus, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		from := status
		to := toStatus
		detail := fmt.Sprintf("refunded %d cents", params.amountCents)
		if err := s.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   current.ID,
			Action:     params.action,
			ActorID:    &params.actor.UserID,
			ActorRole:  params.actor.Role,
			FromStatus: &from,
			ToStatus:   &to,
			Detail:     &detail,
		}); err != nil {
			return err
		}
		event := enums.EventOrderRefunded
		if params.resolution != nil {
			event = enums.EventDisputeResolved
		}
		return s.notifyBoth(ctx, tx, *current, event, params.actor)
	})
}

func refundStatusLabel(refund *sq.PaymentRefund) string {
	if refund == nil || refund.Status == nil {
		return ""
	}
	return *refund.Status
}

func (s *service) notifyBoth(ctx context.Context, tx *gorm.DB, order models.Order, event enums.OutboxEventType, actor orders.Actor) error {
	for _, target := range []uuid.UUID{order.BuyerID, order.SellerID} {
		if err := s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         event,
			TargetUserID: target,
			EntityType:   enums.AggregateOrder,
			EntityID:     order.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) loadDisputed(ctx context.Context, repo orders.Repository, orderID uuid.UUID) (*models.Order, enums.TransactionStatus, error) {
	if orderID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, "", err
	}
	status := orders.DeriveStatus(*order)
	if order.Status == "" {
		if err := repo.NormalizeStatus(ctx, order.ID, status); err != nil {
			return nil, "", err
		}
		order.Status = status
	}
	if status != enums.TransactionStatusDisputeOpened {
		return nil, "", pkgerrors.New(pkgerrors.CodeStateConflict, "no open dispute to resolve")
	}
	return order, status, nil
}

func resolutionDetail(input ResolveDisputeInput) string {
	if strings.TrimSpace(input.Note) != "" {
		return fmt.Sprintf("%s: %s", input.Resolution, input.Note)
	}
	return string(input.Resolution)
}
