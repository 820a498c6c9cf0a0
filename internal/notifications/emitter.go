package notifications

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/outbox"
)

// Event is one user-facing notification request. DedupeHash is derived from
// the entity, event type, and recipient so redelivered webhooks and sweep
// retries collapse to a single notification downstream.
type Event struct {
	Type         enums.OutboxEventType
	TargetUserID uuid.UUID
	EntityType   enums.OutboxAggregateType
	EntityID     uuid.UUID
	Actor        *outbox.ActorRef
	Payload      any
}

// Emitter queues notification events for asynchronous delivery.
type Emitter interface {
	EmitTx(ctx context.Context, tx *gorm.DB, event Event) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type emitter struct {
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewEmitter builds the outbox-backed notification emitter.
func NewEmitter(ob outboxEmitter, logg *logger.Logger) (Emitter, error) {
	if ob == nil {
		return nil, errors.New("outbox service required")
	}
	return &emitter{outbox: ob, logg: logg}, nil
}

type envelopeData struct {
	TargetUserID uuid.UUID `json:"targetUserId"`
	EntityType   string    `json:"entityType"`
	EntityID     uuid.UUID `json:"entityId"`
	DedupeHash   string    `json:"dedupeHash"`
	Payload      any       `json:"payload,omitempty"`
}

func (e *emitter) EmitTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.TargetUserID == uuid.Nil {
		return errors.New("target user required")
	}
	if !event.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", event.Type)
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event.Type,
		AggregateType: event.EntityType,
		AggregateID:   event.EntityID,
		Actor:         event.Actor,
		Version:       1,
		Data: envelopeData{
			TargetUserID: event.TargetUserID,
			EntityType:   string(event.EntityType),
			EntityID:     event.EntityID,
			DedupeHash:   DedupeHash(event.EntityType, event.EntityID, event.Type, event.TargetUserID),
			Payload:      event.Payload,
		},
	})
}

// DedupeHash returns the deterministic hash keyed on entity, event type, and
// recipient. Two emissions for the same triple always hash identically.
func DedupeHash(entityType enums.OutboxAggregateType, entityID uuid.UUID, eventType enums.OutboxEventType, recipient uuid.UUID) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", entityType, entityID, eventType, recipient)))
	return hex.EncodeToString(sum[:])
}

// BestEffort logs an emission failure without propagating it. Call sites that
// must not fail their primary mutation over a notification use this.
func BestEffort(ctx context.Context, logg *logger.Logger, err error, entityID uuid.UUID, operation string) {
	if err == nil || logg == nil {
		return
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"entity_id": entityID.String(),
		"operation": operation,
		"error":     err.Error(),
	})
	logg.Warn(ctx, "notification emit failed")
}
