package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the durable admission record for gateway webhooks.
// EventID carries the gateway's event identifier; the unique index is the
// idempotency gate: a second insert for the same event collides and the
// delivery is treated as a replay. Rows are append-only and never deleted.
type WebhookEvent struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID   string    `gorm:"column:event_id;not null;uniqueIndex"`
	EventType string    `gorm:"column:event_type;not null"`
	Payload   []byte    `gorm:"column:payload;type:jsonb"`

	ReceivedAt time.Time `gorm:"column:received_at;autoCreateTime"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
