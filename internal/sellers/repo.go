package sellers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Seller, error)
	IncrementNoncompliance(ctx context.Context, id uuid.UUID) error
	Freeze(ctx context.Context, id uuid.UUID, reason string, now time.Time) (int64, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	var seller models.Seller
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Seller, error) {
	var seller models.Seller
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

func (r *repository) IncrementNoncompliance(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Seller{}).
		Where("id = ?", id).
		Update("noncompliance_count", gorm.Expr("noncompliance_count + 1")).Error
}

// Freeze is idempotent: a second freeze hits zero rows and the caller treats
// that as already-applied.
func (r *repository) Freeze(ctx context.Context, id uuid.UUID, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Seller{}).
		Where("id = ? AND payouts_frozen = ?", id, false).
		Updates(map[string]any{
			"payouts_frozen": true,
			"frozen_at":      now,
			"frozen_reason":  &reason,
		})
	return res.RowsAffected, res.Error
}
