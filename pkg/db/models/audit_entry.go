package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// AuditEntry records one actor-attributed mutation on a domain entity, scoped
// by aggregate type and id. Entries are written inside the same transaction as
// the mutation they describe.
type AuditEntry struct {
	ID         uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EntityType enums.OutboxAggregateType `gorm:"column:entity_type;type:text;not null;index:ix_audit_entries_entity,priority:1"`
	EntityID   uuid.UUID                 `gorm:"column:entity_id;type:uuid;not null;index:ix_audit_entries_entity,priority:2"`

	Action    enums.AuditAction `gorm:"column:action;type:text;not null"`
	ActorID   *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:text;not null"`

	FromStatus *enums.TransactionStatus `gorm:"column:from_status;type:text"`
	ToStatus   *enums.TransactionStatus `gorm:"column:to_status;type:text"`

	Detail *string `gorm:"column:detail"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AuditEntry) TableName() string { return "audit_entries" }
