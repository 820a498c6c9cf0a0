package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// OutboxDLQ holds events the publisher gave up on after exhausting retries.
type OutboxDLQ struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       string              `gorm:"column:event_id;not null;uniqueIndex"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID           `gorm:"column:aggregate_id;type:uuid;not null"`

	Payload      json.RawMessage `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason  string          `gorm:"column:error_reason;not null"`
	ErrorMessage *string         `gorm:"column:error_message"`
	AttemptCount int             `gorm:"column:attempt_count;not null"`

	FailedAt  time.Time `gorm:"column:failed_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
