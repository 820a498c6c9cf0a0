package sweep

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/sellers"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/metrics"
)

const noncomplianceJobName = "noncompliance"

// NoncomplianceJobParams collect the dependencies for NewNoncomplianceJob.
type NoncomplianceJobParams struct {
	Orders     orders.Repository
	Sellers    sellers.Repository
	Audit      *audit.Recorder
	Tx         txRunner
	Notifier   notifications.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.SweepJobMetrics
	PageSize   int
	TimeBudget time.Duration
	Now        func() time.Time
}

// NoncomplianceJob flags orders whose seller missed a fulfillment deadline,
// either the start deadline or the completion deadline for fulfillment already
// in flight. The flagged status exposes the order to administrative action; it
// does not refund or cancel anything on its own.
type NoncomplianceJob struct {
	orders     orders.Repository
	sellers    sellers.Repository
	audit      *audit.Recorder
	tx         txRunner
	notifier   notifications.Emitter
	logg       *logger.Logger
	metrics    *metrics.SweepJobMetrics
	pageSize   int
	timeBudget time.Duration
	now        func() time.Time
}

// NewNoncomplianceJob builds the noncompliance job.
func NewNoncomplianceJob(params NoncomplianceJobParams) (*NoncomplianceJob, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Sellers == nil {
		return nil, errors.New("sellers repository required")
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
	return &NoncomplianceJob{
		orders:     params.Orders,
		sellers:    params.Sellers,
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

func (j *NoncomplianceJob) Name() string { return noncomplianceJobName }

// Run pages over overdue orders, flagging each with a compare-and-set gated
// on the status the row held when listed. Zero affected rows means the seller
// acted (or another run flagged it) between the list and the write.
func (j *NoncomplianceJob) Run(ctx context.Context) error {
	deadline := j.now().Add(j.timeBudget)
	for {
		if j.now().After(deadline) {
			j.logg.Info(ctx, "sweep time budget exhausted; deferring remaining orders")
			return nil
		}
		var (
			pending  []notice
			pageFull bool
		)
		err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := j.now()
			rows, err := j.orders.WithTx(tx).ListFulfillmentOverdue(ctx, now, j.pageSize)
			if err != nil {
				return err
			}
			pageFull = len(rows) == j.pageSize
			for _, order := range rows {
				from := order.Status
				to := enums.TransactionStatusSellerNoncompliant
				affected, err := j.orders.WithTx(tx).TransitionStatus(ctx, order.ID, from, to, nil)
				if err != nil {
					return err
				}
				if affected == 0 {
					j.metrics.AddProcessed(noncomplianceJobName, "skipped", 1)
					continue
				}
				if err := j.sellers.WithTx(tx).IncrementNoncompliance(ctx, order.SellerID); err != nil {
					return err
				}
				detail := "fulfillment start deadline missed"
				switch from {
				case enums.TransactionStatusDeliveryScheduled,
					enums.TransactionStatusOutForDelivery,
					enums.TransactionStatusPickupScheduled:
					detail = "fulfillment complete deadline missed"
				}
				if err := j.audit.RecordTx(tx, audit.Entry{
					EntityType: enums.AggregateOrder,
					EntityID:   order.ID,
					Action:     enums.AuditActionSellerNoncompliant,
					FromStatus: &from,
					ToStatus:   &to,
					Detail:     &detail,
				}); err != nil {
					return err
				}
				j.metrics.AddProcessed(noncomplianceJobName, "flagged", 1)
				pending = append(pending, notice{
					entityID: order.ID,
					event: notifications.Event{
						Type:         enums.EventSellerNoncompliant,
						TargetUserID: order.SellerID,
						EntityType:   enums.AggregateOrder,
						EntityID:     order.ID,
					},
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, n := range pending {
			emitErr := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return j.notifier.EmitTx(ctx, tx, n.event)
			})
			notifications.BestEffort(ctx, j.logg, emitErr, n.entityID, "sweep.noncompliance")
		}
		if !pageFull {
			return nil
		}
	}
}
