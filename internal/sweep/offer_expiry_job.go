package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/metrics"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

const offerExpiryJobName = "offer_expiry"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OfferExpiryJobParams collect the dependencies for NewOfferExpiryJob.
type OfferExpiryJobParams struct {
	Offers     offers.Repository
	Listings   listings.Repository
	Orders     orders.Repository
	Audit      *audit.Recorder
	Tx         txRunner
	Notifier   notifications.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.SweepJobMetrics
	PageSize   int
	TimeBudget time.Duration
	Now        func() time.Time
}

// OfferExpiryJob retires offers whose clock has run out. Two passes: open or
// countered offers past their expiry, and accepted offers whose payment
// window closed without a payment landing. The second pass also releases the
// listing reservation and cancels the pending order.
//
// Every mutation re-checks its precondition inside the page transaction, so
// overlapping runs re-confirm already-applied state instead of corrupting it.
type OfferExpiryJob struct {
	offers     offers.Repository
	listings   listings.Repository
	orders     orders.Repository
	audit      *audit.Recorder
	tx         txRunner
	notifier   notifications.Emitter
	logg       *logger.Logger
	metrics    *metrics.SweepJobMetrics
	pageSize   int
	timeBudget time.Duration
	now        func() time.Time
}

// NewOfferExpiryJob builds the offer expiry job.
func NewOfferExpiryJob(params OfferExpiryJobParams) (*OfferExpiryJob, error) {
	if params.Offers == nil {
		return nil, errors.New("offers repository required")
	}
	if params.Listings == nil {
		return nil, errors.New("listings repository required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit recorder required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notification emitter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.PageSize <= 0 {
		params.PageSize = 200
	}
	if params.TimeBudget <= 0 {
		params.TimeBudget = 45 * time.Second
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &OfferExpiryJob{
		offers:     params.Offers,
		listings:   params.Listings,
		orders:     params.Orders,
		audit:      params.Audit,
		tx:         params.Tx,
		notifier:   params.Notifier,
		logg:       params.Logger,
		metrics:    params.Metrics,
		pageSize:   params.PageSize,
		timeBudget: params.TimeBudget,
		now:        params.Now,
	}, nil
}

func (j *OfferExpiryJob) Name() string { return offerExpiryJobName }

// Run executes both passes, sharing one wall-clock budget. The budget is a
// soft limit checked between pages; the next scheduled run picks up whatever
// is left.
func (j *OfferExpiryJob) Run(ctx context.Context) error {
	deadline := j.now().Add(j.timeBudget)
	var errs []error
	if err := j.expiryPass(ctx, deadline); err != nil {
		errs = append(errs, fmt.Errorf("expiry pass: %w", err))
	}
	if err := j.acceptedWindowPass(ctx, deadline); err != nil {
		errs = append(errs, fmt.Errorf("accepted-window pass: %w", err))
	}
	return multierr.Combine(errs...)
}

// notice is a notification deferred until after the page commits. Emission is
// best-effort: a failure is logged, never rolled back into the page.
type notice struct {
	event    notifications.Event
	entityID uuid.UUID
}

func (j *OfferExpiryJob) expiryPass(ctx context.Context, deadline time.Time) error {
	for {
		if j.now().After(deadline) {
			j.logg.Info(ctx, "sweep time budget exhausted; deferring remaining offers")
			return nil
		}
		var (
			pending  []notice
			pageFull bool
		)
		err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := j.now()
			rows, err := j.offers.WithTx(tx).ListExpired(ctx, now, j.pageSize)
			if err != nil {
				return err
			}
			pageFull = len(rows) == j.pageSize
			for _, offer := range rows {
				expired, err := j.expireOffer(ctx, tx, offer, now, "offer expiry elapsed")
				if err != nil {
					return err
				}
				if !expired {
					j.metrics.AddProcessed(offerExpiryJobName, "skipped", 1)
					continue
				}
				j.metrics.AddProcessed(offerExpiryJobName, "expired", 1)
				pending = append(pending, notice{
					entityID: offer.ID,
					event: notifications.Event{
						Type:         enums.EventOfferExpired,
						TargetUserID: offer.BuyerID,
						EntityType:   enums.AggregateOffer,
						EntityID:     offer.ID,
					},
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		j.emit(ctx, pending)
		if !pageFull {
			return nil
		}
	}
}

func (j *OfferExpiryJob) acceptedWindowPass(ctx context.Context, deadline time.Time) error {
	for {
		if j.now().After(deadline) {
			j.logg.Info(ctx, "sweep time budget exhausted; deferring remaining offers")
			return nil
		}
		var (
			pending  []notice
			pageFull bool
		)
		err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := j.now()
			rows, err := j.offers.WithTx(tx).ListPaymentWindowLapsed(ctx, now, j.pageSize)
			if err != nil {
				return err
			}
			pageFull = len(rows) == j.pageSize
			for _, offer := range rows {
				notes, err := j.reclaimAcceptedOffer(ctx, tx, offer, now)
				if err != nil {
					return err
				}
				pending = append(pending, notes...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		j.emit(ctx, pending)
		if !pageFull {
			return nil
		}
	}
}

// reclaimAcceptedOffer handles one lapsed accepted offer inside the page
// transaction. A last-moment payment wins: if the linked order already moved
// past pending payment, the offer is marked converted so the lapsed-window
// listing stops returning it.
func (j *OfferExpiryJob) reclaimAcceptedOffer(ctx context.Context, tx *gorm.DB, offer models.Offer, now time.Time) ([]notice, error) {
	order, err := j.orders.WithTx(tx).FindByOfferID(ctx, offer.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if order != nil && orders.DeriveStatus(*order) != enums.TransactionStatusPendingPayment {
		if err := j.convertPaidOffer(ctx, tx, offer, now); err != nil {
			return nil, err
		}
		j.metrics.AddProcessed(offerExpiryJobName, "converted", 1)
		return nil, nil
	}

	released, err := j.listings.WithTx(tx).ReleaseReservation(ctx, offer.ListingID, offer.ID)
	if err != nil {
		return nil, err
	}

	expired, err := j.expireOffer(ctx, tx, offer, now, "payment window lapsed")
	if err != nil {
		return nil, err
	}
	if !expired {
		j.metrics.AddProcessed(offerExpiryJobName, "skipped", 1)
		return nil, nil
	}
	j.metrics.AddProcessed(offerExpiryJobName, "expired", 1)

	var pending []notice
	pending = append(pending, notice{
		entityID: offer.ID,
		event: notifications.Event{
			Type:         enums.EventOfferExpired,
			TargetUserID: offer.BuyerID,
			EntityType:   enums.AggregateOffer,
			EntityID:     offer.ID,
		},
	})
	if released > 0 {
		j.metrics.AddProcessed(offerExpiryJobName, "released", 1)
		pending = append(pending, notice{
			entityID: offer.ID,
			event: notifications.Event{
				Type:         enums.EventReservationReleased,
				TargetUserID: offer.SellerID,
				EntityType:   enums.AggregateListing,
				EntityID:     offer.ListingID,
			},
		})
	}

	if order != nil {
		if err := j.cancelPendingOrder(ctx, tx, order, released > 0, now); err != nil {
			return nil, err
		}
		j.metrics.AddProcessed(offerExpiryJobName, "cancelled", 1)
	}
	return pending, nil
}

// expireOffer appends the history entry and flips the status, gated on the
// status the row held when listed. Zero rows means another run got here
// first.
func (j *OfferExpiryJob) expireOffer(ctx context.Context, tx *gorm.DB, offer models.Offer, now time.Time, reason string) (bool, error) {
	history := offer.History.Append(types.OfferHistoryEntry{
		Action:    "expired",
		ActorRole: string(enums.ActorRoleSystem),
		Note:      reason,
		At:        now,
	})
	affected, err := j.offers.WithTx(tx).TransitionStatus(ctx, offer.ID, offer.Status, enums.OfferStatusExpired, map[string]any{
		"history": history,
	})
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	detail := reason
	if err := j.audit.RecordTx(tx, audit.Entry{
		EntityType: enums.AggregateOffer,
		EntityID:   offer.ID,
		Action:     enums.AuditActionOfferExpired,
		Detail:     &detail,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// convertPaidOffer closes out an accepted offer whose order was paid. The
// payment webhook converts offers as payments land; this backstops rows
// recorded before it did so, otherwise every run re-reads them.
func (j *OfferExpiryJob) convertPaidOffer(ctx context.Context, tx *gorm.DB, offer models.Offer, now time.Time) error {
	history := offer.History.Append(types.OfferHistoryEntry{
		Action:    "converted",
		ActorRole: string(enums.ActorRoleSystem),
		Note:      "payment received",
		At:        now,
	})
	_, err := j.offers.WithTx(tx).TransitionStatus(ctx, offer.ID, enums.OfferStatusAccepted, enums.OfferStatusConverted, map[string]any{
		"history": history,
	})
	return err
}

// cancelPendingOrder terminates the order the acceptance created. The guard
// on pending payment makes a lost race with the webhook path a no-op.
func (j *OfferExpiryJob) cancelPendingOrder(ctx context.Context, tx *gorm.DB, order *models.Order, released bool, now time.Time) error {
	from := enums.TransactionStatusPendingPayment
	affected, err := j.orders.WithTx(tx).TransitionStatus(ctx, order.ID, from, enums.TransactionStatusCancelled, map[string]any{
		"cancelled_at": now,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}
	to := enums.TransactionStatusCancelled
	detail := "payment window lapsed"
	if err := j.audit.RecordTx(tx, audit.Entry{
		EntityType: enums.AggregateOrder,
		EntityID:   order.ID,
		Action:     enums.AuditActionOfferExpired,
		FromStatus: &from,
		ToStatus:   &to,
		Detail:     &detail,
	}); err != nil {
		return err
	}
	if released {
		return j.audit.RecordTx(tx, audit.Entry{
			EntityType: enums.AggregateOrder,
			EntityID:   order.ID,
			Action:     enums.AuditActionReservationReleased,
		})
	}
	return nil
}

func (j *OfferExpiryJob) emit(ctx context.Context, pending []notice) {
	for _, n := range pending {
		err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return j.notifier.EmitTx(ctx, tx, n.event)
		})
		notifications.BestEffort(ctx, j.logg, err, n.entityID, "sweep.offer_expiry")
	}
}
