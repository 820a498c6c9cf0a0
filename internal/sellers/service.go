package sellers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// FreezeInput suspends a seller's payouts pending review.
type FreezeInput struct {
	SellerID uuid.UUID
	Actor    orders.Actor
	Reason   string
}

type Service interface {
	Freeze(ctx context.Context, input FreezeInput) error
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier notifications.Emitter
	now      func() time.Time
}

// NewService builds the seller compliance service.
func NewService(repo Repository, tx txRunner, notifier notifications.Emitter, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, errors.New("sellers repository required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if notifier == nil {
		return nil, errors.New("notification emitter required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, tx: tx, notifier: notifier, now: now}, nil
}

func (s *service) Freeze(ctx context.Context, input FreezeInput) error {
	if input.Actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.SellerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "freeze reason required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		seller, err := repo.FindByID(ctx, input.SellerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
			}
			return err
		}
		affected, err := repo.Freeze(ctx, seller.ID, input.Reason, s.now())
		if err != nil {
			return err
		}
		if affected == 0 {
			// Already frozen.
			return nil
		}
		return s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         enums.EventSellerFrozen,
			TargetUserID: seller.UserID,
			EntityType:   enums.AggregateSeller,
			EntityID:     seller.ID,
			Payload:      map[string]any{"reason": input.Reason},
		})
	})
}
