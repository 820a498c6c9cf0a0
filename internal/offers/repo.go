package offers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// Repository persists offers. Status changes are compare-and-set on the
// expected current status, mirroring the order repository's discipline.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, offer *models.Offer) (*models.Offer, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)

	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OfferStatus, updates map[string]any) (int64, error)

	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error)
	ListPaymentWindowLapsed(ctx context.Context, now time.Time, limit int) ([]models.Offer, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, offer *models.Offer) (*models.Offer, error) {
	if err := r.db.WithContext(ctx).Create(offer).Error; err != nil {
		return nil, err
	}
	return offer, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OfferStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// ListExpired returns open or countered offers whose expiry has passed,
// oldest expiry first.
func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	var rows []models.Offer
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]enums.OfferStatus{enums.OfferStatusOpen, enums.OfferStatusCountered}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPaymentWindowLapsed returns accepted offers whose payment window closed
// without a payment landing.
func (r *repository) ListPaymentWindowLapsed(ctx context.Context, now time.Time, limit int) ([]models.Offer, error) {
	var rows []models.Offer
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_window_end IS NOT NULL AND payment_window_end < ?",
			enums.OfferStatusAccepted, now).
		Order("payment_window_end ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
