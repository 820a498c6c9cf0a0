package squarewebhook

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketloop-backend/pkg/db"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
)

// Gate is the durable idempotency gate for gateway webhooks. Admission is an
// insert into webhook_events inside the caller's transaction, so the
// admission record and the event's side effects commit or roll back together.
// The unique index on event_id makes the insert the atomic existence check: a
// replayed delivery collides and is not admitted. Rows are never deleted, so
// a replay arriving arbitrarily late is still rejected.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// AdmitTx records the event and reports whether this delivery is the first.
// A store failure surfaces as an error; the caller must fail the webhook so
// the gateway redelivers rather than proceed without a durable record.
func (g *Gate) AdmitTx(tx *gorm.DB, eventID, eventType string, payload []byte) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("event id required")
	}
	row := models.WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
	}
	if err := tx.Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_webhook_events_event_id") ||
			dbpkg.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
