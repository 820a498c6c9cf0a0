package sellers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
)

type stubSellerRepo struct {
	seller *models.Seller
	frozen []string
}

func (r *stubSellerRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubSellerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	if r.seller == nil || r.seller.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return r.seller, nil
}

func (r *stubSellerRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Seller, error) {
	if r.seller == nil || r.seller.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return r.seller, nil
}

func (r *stubSellerRepo) IncrementNoncompliance(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (r *stubSellerRepo) Freeze(ctx context.Context, id uuid.UUID, reason string, now time.Time) (int64, error) {
	if r.seller == nil || r.seller.ID != id || r.seller.PayoutsFrozen {
		return 0, nil
	}
	r.seller.PayoutsFrozen = true
	r.seller.FrozenAt = &now
	r.seller.FrozenReason = &reason
	r.frozen = append(r.frozen, reason)
	return 1, nil
}

type stubEmitter struct {
	events []notifications.Event
}

func (e *stubEmitter) EmitTx(ctx context.Context, tx *gorm.DB, event notifications.Event) error {
	e.events = append(e.events, event)
	return nil
}

type nilTxRunner struct{}

func (nilTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func admin() orders.Actor {
	return orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func newFreezeTest(t *testing.T) (Service, *stubSellerRepo, *stubEmitter) {
	t.Helper()
	repo := &stubSellerRepo{
		seller: &models.Seller{ID: uuid.New(), UserID: uuid.New(), DisplayName: "vintage-vault"},
	}
	emitter := &stubEmitter{}
	now := func() time.Time { return time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC) }
	svc, err := NewService(repo, nilTxRunner{}, emitter, now)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, repo, emitter
}

func TestFreeze(t *testing.T) {
	svc, repo, emitter := newFreezeTest(t)

	err := svc.Freeze(context.Background(), FreezeInput{
		SellerID: repo.seller.ID,
		Actor:    admin(),
		Reason:   "chargeback pattern",
	})
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !repo.seller.PayoutsFrozen {
		t.Fatal("expected payouts frozen")
	}
	if repo.seller.FrozenReason == nil || *repo.seller.FrozenReason != "chargeback pattern" {
		t.Fatalf("frozen reason = %v", repo.seller.FrozenReason)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(emitter.events))
	}
	event := emitter.events[0]
	if event.Type != enums.EventSellerFrozen {
		t.Fatalf("event type = %s", event.Type)
	}
	if event.TargetUserID != repo.seller.UserID {
		t.Fatal("notification should go to the seller's user")
	}
	if event.EntityType != enums.AggregateSeller || event.EntityID != repo.seller.ID {
		t.Fatalf("event entity = %s/%s", event.EntityType, event.EntityID)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", event.Payload)
	}
	if reason, _ := payload["reason"].(string); reason != "chargeback pattern" {
		t.Fatalf("payload reason = %q", reason)
	}
}

func TestFreeze_alreadyFrozen(t *testing.T) {
	svc, repo, emitter := newFreezeTest(t)
	repo.seller.PayoutsFrozen = true

	err := svc.Freeze(context.Background(), FreezeInput{
		SellerID: repo.seller.ID,
		Actor:    admin(),
		Reason:   "repeat review",
	})
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("re-freeze must not notify again, got %d events", len(emitter.events))
	}
	if len(repo.frozen) != 0 {
		t.Fatal("re-freeze must not rewrite the freeze record")
	}
}

func TestFreeze_requiresAdmin(t *testing.T) {
	svc, repo, _ := newFreezeTest(t)

	err := svc.Freeze(context.Background(), FreezeInput{
		SellerID: repo.seller.ID,
		Actor:    orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleSeller},
		Reason:   "self-service freeze",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.seller.PayoutsFrozen {
		t.Fatal("seller must not be frozen")
	}
}

func TestFreeze_validation(t *testing.T) {
	svc, repo, _ := newFreezeTest(t)

	err := svc.Freeze(context.Background(), FreezeInput{Actor: admin(), Reason: "fraud"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("nil seller id: expected validation, got %v", err)
	}

	err = svc.Freeze(context.Background(), FreezeInput{SellerID: repo.seller.ID, Actor: admin(), Reason: "   "})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("blank reason: expected validation, got %v", err)
	}
}

func TestFreeze_unknownSeller(t *testing.T) {
	svc, _, _ := newFreezeTest(t)

	err := svc.Freeze(context.Background(), FreezeInput{
		SellerID: uuid.New(),
		Actor:    admin(),
		Reason:   "fraud",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
