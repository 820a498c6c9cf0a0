package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// Repository exposes order persistence. Status-changing writes are
// compare-and-set updates gated on the expected current status so concurrent
// writers cannot both apply; callers inspect the affected-row count.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	FindByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Order, error)

	NormalizeStatus(ctx context.Context, id uuid.UUID, derived enums.TransactionStatus) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (int64, error)
	UpdateGuarded(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, updates map[string]any) (int64, error)

	ClaimRefundMarker(ctx context.Context, id uuid.UUID, now, reclaimBefore time.Time) (int64, error)
	ClearRefundMarker(ctx context.Context, id uuid.UUID) error

	ListFulfillmentOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("gateway_payment_id = ?", paymentID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("offer_id = ?", offerID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// NormalizeStatus persists the derived status on a legacy row so later
// compare-and-set writes have a canonical value to gate on. Safe under
// races: concurrent writers derive the same value.
func (r *repository) NormalizeStatus(ctx context.Context, id uuid.UUID, derived enums.TransactionStatus) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND (status IS NULL OR status = '')", id).
		Update("status", derived).Error
}

// TransitionStatus applies updates plus the status change only when the row
// still holds the expected current status. Returns the affected-row count;
// zero means another writer got there first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// UpdateGuarded applies updates without changing status, still gated on the
// expected current status.
func (r *repository) UpdateGuarded(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, status).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// ClaimRefundMarker sets the refund-in-progress marker if it is absent or
// stale. The age cutoff treats a marker older than the reclaim window as
// abandoned by a crashed worker.
func (r *repository) ClaimRefundMarker(ctx context.Context, id uuid.UUID, now, reclaimBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND refund_status <> ? AND (refund_in_progress_at IS NULL OR refund_in_progress_at < ?)",
			id, enums.RefundStatusFull, reclaimBefore).
		Update("refund_in_progress_at", now)
	return res.RowsAffected, res.Error
}

func (r *repository) ClearRefundMarker(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("refund_in_progress_at", nil).Error
}

// ListFulfillmentOverdue returns orders whose seller has blown a fulfillment
// deadline: not yet started past fulfill_start_by, or started but still in
// flight past fulfill_complete_by.
func (r *repository) ListFulfillmentOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("(status IN ? AND fulfill_start_by IS NOT NULL AND fulfill_start_by < ?)"+
			" OR (status IN ? AND fulfill_complete_by IS NOT NULL AND fulfill_complete_by < ?)",
			[]enums.TransactionStatus{
				enums.TransactionStatusFulfillmentRequired,
				enums.TransactionStatusReadyForPickup,
			}, cutoff,
			[]enums.TransactionStatus{
				enums.TransactionStatusDeliveryScheduled,
				enums.TransactionStatusOutForDelivery,
				enums.TransactionStatusPickupScheduled,
			}, cutoff).
		Order("fulfill_complete_by ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
