package audit

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
)

// Recorder writes append-only audit entries. Entries always ride the same
// transaction as the mutation they describe so neither can commit alone.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Entry captures one state-changing action against an entity.
type Entry struct {
	EntityType enums.OutboxAggregateType
	EntityID   uuid.UUID
	Action     enums.AuditAction
	ActorID    *uuid.UUID
	ActorRole  enums.ActorRole
	FromStatus *enums.TransactionStatus
	ToStatus   *enums.TransactionStatus
	Detail     *string
}

func (r *Recorder) RecordTx(tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.EntityType == "" {
		return errors.New("entity type required")
	}
	if entry.EntityID == uuid.Nil {
		return errors.New("entity id required")
	}
	if entry.ActorRole == "" {
		entry.ActorRole = enums.ActorRoleSystem
	}
	row := models.AuditEntry{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		ActorRole:  entry.ActorRole,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Detail:     entry.Detail,
	}
	return tx.Create(&row).Error
}

// ListForEntity returns the trail for one entity, oldest first.
func (r *Recorder) ListForEntity(db *gorm.DB, entityType enums.OutboxAggregateType, entityID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.AuditEntry
	err := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListForOrder returns the trail for one order, oldest first.
func (r *Recorder) ListForOrder(db *gorm.DB, orderID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	return r.ListForEntity(db, enums.AggregateOrder, orderID, limit)
}
