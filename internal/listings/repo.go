package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
)

// Repository guards the listing reservation pointer. Reserve and Release are
// compare-and-set writes so a stale worker cannot clobber a reservation that
// has since moved to another offer.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Reserve(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error)
	ReleaseReservation(ctx context.Context, listingID, offerID uuid.UUID) (int64, error)
	MarkSold(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// Reserve points the listing at the accepted offer. Fails (zero rows) when
// the listing is already reserved or sold.
func (r *repository) Reserve(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND reserved_by_offer_id IS NULL AND sold_at IS NULL", listingID).
		Updates(map[string]any{
			"reserved_by_offer_id": offerID,
			"reserved_at":          now,
		})
	return res.RowsAffected, res.Error
}

// ReleaseReservation clears the pointer only if it still names the given
// offer. A reservation superseded by payment or another acceptance is left
// alone.
func (r *repository) ReleaseReservation(ctx context.Context, listingID, offerID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND reserved_by_offer_id = ?", listingID, offerID).
		Updates(map[string]any{
			"reserved_by_offer_id": nil,
			"reserved_at":          nil,
		})
	return res.RowsAffected, res.Error
}

// MarkSold stamps the sale and consumes the reservation held by the paying
// offer.
func (r *repository) MarkSold(ctx context.Context, listingID, offerID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND sold_at IS NULL", listingID).
		Updates(map[string]any{
			"sold_at":              now,
			"reserved_by_offer_id": nil,
			"reserved_at":          nil,
		})
	return res.RowsAffected, res.Error
}
