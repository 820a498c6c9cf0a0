package models

import (
	"time"

	"github.com/google/uuid"
)

// GatewayRefund records each refund the gateway reports, one row per gateway
// refund id. The unique index makes the row the reconciliation marker: the
// refund service and the refund webhook both insert before touching the
// order, so whichever lands second sees the collision and backs off instead
// of double-counting the amount.
type GatewayRefund struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RefundID    string    `gorm:"column:refund_id;not null;uniqueIndex"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	AmountCents int       `gorm:"column:amount_cents;not null"`
	Status      string    `gorm:"column:status"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (GatewayRefund) TableName() string { return "gateway_refunds" }
