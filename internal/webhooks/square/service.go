package squarewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

const paymentStatusCompleted = "COMPLETED"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Gate              *Gate
	Orders            orders.Service
	OrdersRepo        orders.Repository
	Offers            offers.Repository
	Listings          listings.Repository
	Audit             *audit.Recorder
	Ledger            *orders.RefundLedger
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service ingests Square payment and refund webhooks behind the idempotency
// gate. The admission record and every side effect of the event share one
// transaction.
type Service struct {
	gate     *Gate
	orders   orders.Service
	repo     orders.Repository
	offers   offers.Repository
	listings listings.Repository
	audit    *audit.Recorder
	ledger   *orders.RefundLedger
	txRunner txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook gate required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Offers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "offers repository required")
	}
	if params.Listings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "listings repository required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund ledger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		gate:     params.Gate,
		orders:   params.Orders,
		repo:     params.OrdersRepo,
		offers:   params.Offers,
		listings: params.Listings,
		audit:    params.Audit,
		ledger:   params.Ledger,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		now:      params.Now,
	}, nil
}

// SquareWebhookEvent is the outer shape Square posts to the webhook endpoint.
type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
	raw     json.RawMessage
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *SquarePayment `json:"payment"`
	Refund  *SquareRefund  `json:"refund"`
}

type SquarePayment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type SquareRefund struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	PaymentID   string       `json:"payment_id"`
	AmountMoney *SquareMoney `json:"amount_money"`
}

type SquareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ParseEvent decodes a webhook body, keeping the raw bytes for the admission
// record.
func ParseEvent(body []byte) (*SquareWebhookEvent, error) {
	var event SquareWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_id missing")
	}
	event.raw = json.RawMessage(body)
	return &event, nil
}

// HandleEvent admits the event and applies its side effects exactly once.
// A replayed event is acknowledged without effects so the gateway stops
// redelivering. An admission failure is surfaced so the gateway retries.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		admitted, err := s.gate.AdmitTx(tx, event.EventID, event.Type, event.raw)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook admission failed")
		}
		if !admitted {
			logCtx := s.logg.WithField(ctx, "event_id", event.EventID)
			s.logg.Info(logCtx, "webhook replay ignored")
			return nil
		}
		switch strings.ToLower(event.Type) {
		case "payment.updated", "payment.created":
			return s.applyPayment(ctx, tx, event)
		case "refund.updated", "refund.created":
			return s.applyRefund(ctx, tx, event)
		default:
			// Unrecognized types are admitted and dropped; the durable record
			// still blocks replays.
			return nil
		}
	})
}

func (s *Service) applyPayment(ctx context.Context, tx *gorm.DB, event *SquareWebhookEvent) error {
	payment := event.Data.Object.Payment
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}
	if !strings.EqualFold(payment.Status, paymentStatusCompleted) {
		return nil
	}
	order, err := s.orders.ConfirmPaymentTx(ctx, tx, orders.ConfirmPaymentInput{
		GatewayPaymentID: payment.ID,
		PaidAt:           s.now(),
	})
	if err != nil {
		return err
	}
	if order.OfferID != nil {
		repo := s.listings.WithTx(tx)
		if _, err := repo.MarkSold(ctx, order.ListingID, *order.OfferID, s.now()); err != nil {
			return err
		}
		if err := s.convertOffer(ctx, tx, *order.OfferID); err != nil {
			return err
		}
	}
	return nil
}

// convertOffer closes out the accepted offer behind a paid order so the
// payment-window sweep stops considering it. Gated on the accepted status;
// a missing or already-moved offer is left alone.
func (s *Service) convertOffer(ctx context.Context, tx *gorm.DB, offerID uuid.UUID) error {
	repo := s.offers.WithTx(tx)
	offer, err := repo.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if offer.Status != enums.OfferStatusAccepted {
		return nil
	}
	history := offer.History.Append(types.OfferHistoryEntry{
		Action:    "converted",
		ActorRole: string(enums.ActorRoleSystem),
		Note:      "payment received",
		At:        s.now(),
	})
	_, err = repo.TransitionStatus(ctx, offer.ID, enums.OfferStatusAccepted, enums.OfferStatusConverted, map[string]any{
		"history": history,
	})
	return err
}

// applyRefund reconciles a refund reported by the gateway against the order's
// refund records. Each gateway refund id is counted once: the ledger insert
// dedupes refunds our own refund path already applied, and distinct refunds
// accumulate into the order's refunded total.
func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, event *SquareWebhookEvent) error {
	refund := event.Data.Object.Refund
	if refund == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund payload missing")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund id missing")
	}
	if !strings.EqualFold(refund.Status, paymentStatusCompleted) {
		return nil
	}
	if refund.AmountMoney == nil || refund.AmountMoney.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount missing")
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.FindByGatewayPaymentID(ctx, refund.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logCtx := s.logg.WithField(ctx, "payment_id", refund.PaymentID)
			s.logg.Warn(logCtx, "refund webhook for unknown payment")
			return nil
		}
		return err
	}

	status := orders.DeriveStatus(*order)
	if order.Status == "" {
		if err := repo.NormalizeStatus(ctx, order.ID, status); err != nil {
			return err
		}
	}

	recorded, err := s.ledger.RecordTx(tx, &models.GatewayRefund{
		RefundID:    refund.ID,
		OrderID:     order.ID,
		AmountCents: int(refund.AmountMoney.Amount),
		Status:      refund.Status,
	})
	if err != nil {
		return err
	}
	if !recorded {
		// Already reflected, either by our own refund path or an earlier event.
		return nil
	}

	refundedCents := order.RefundedCents + int(refund.AmountMoney.Amount)
	target := status
	updates := map[string]any{
		"refunded_cents": refundedCents,
		"refund_status":  enums.RefundStatusPartial,
	}
	if refundedCents >= order.GrossCents {
		updates["refund_status"] = enums.RefundStatusFull
		updates["refunded_at"] = s.now()
		target = enums.TransactionStatusRefunded
	}
	affected, err := repo.TransitionStatus(ctx, order.ID, status, target, updates)
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
	}

	from := status
	detail := "external refund reconciled"
	return s.audit.RecordTx(tx, audit.Entry{
		EntityType: enums.AggregateOrder,
		EntityID:   order.ID,
		Action:     enums.AuditActionRefundReconciled,
		ActorRole:  enums.ActorRoleSystem,
		FromStatus: &from,
		ToStatus:   &target,
		Detail:     &detail,
	})
}
