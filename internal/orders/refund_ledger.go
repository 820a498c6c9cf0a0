package orders

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
)

// RefundLedger persists one row per gateway refund id. Both refund writers,
// the admin refund service and the refund webhook, insert here before
// adjusting the order's refunded total; the unique index on refund_id decides
// which writer counts the amount.
type RefundLedger struct{}

func NewRefundLedger() *RefundLedger {
	return &RefundLedger{}
}

// RecordTx inserts the refund row inside the caller's transaction. It returns
// false when the refund id is already recorded, meaning the amount was
// counted by an earlier writer and must not be applied again.
func (l *RefundLedger) RecordTx(tx *gorm.DB, row *models.GatewayRefund) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if row == nil || row.RefundID == "" {
		return false, errors.New("refund id required")
	}
	if err := tx.Create(row).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListForOrder returns the recorded refunds for one order, oldest first.
func (l *RefundLedger) ListForOrder(conn *gorm.DB, orderID uuid.UUID, limit int) ([]models.GatewayRefund, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.GatewayRefund
	err := conn.Where("order_id = ?", orderID).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
