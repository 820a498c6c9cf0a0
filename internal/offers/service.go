package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Config carries the negotiation timers and fee split.
type Config struct {
	PaymentWindow  time.Duration
	DefaultTTL     time.Duration
	PlatformFeeBps int
}

// CreateInput opens a new offer on a listing.
type CreateInput struct {
	ListingID   uuid.UUID
	Actor       orders.Actor
	AmountCents int
}

// CounterInput replaces the standing amount with the seller's counter.
type CounterInput struct {
	OfferID     uuid.UUID
	Actor       orders.Actor
	AmountCents int
	Note        string
}

// AcceptInput accepts the standing amount and opens the payment window.
// TransportMode fixes the fulfillment branch of the order being created.
type AcceptInput struct {
	OfferID       uuid.UUID
	Actor         orders.Actor
	TransportMode enums.TransportMode
}

// Service handles offer negotiation up to the point payment takes over.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Offer, error)
	Counter(ctx context.Context, input CounterInput) error
	Accept(ctx context.Context, input AcceptInput) (*models.Order, error)
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Repo     Repository
	Listings listings.Repository
	Orders   orders.Repository
	Tx       txRunner
	Notifier notifications.Emitter
	Config   Config
	Now      func() time.Time
}

type service struct {
	repo     Repository
	listings listings.Repository
	orders   orders.Repository
	tx       txRunner
	notifier notifications.Emitter
	cfg      Config
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("offers repository required")
	}
	if params.Listings == nil {
		return nil, errors.New("listings repository required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notification emitter required")
	}
	if params.Config.PaymentWindow <= 0 || params.Config.DefaultTTL <= 0 {
		return nil, errors.New("offer timers required")
	}
	if params.Config.PlatformFeeBps < 0 || params.Config.PlatformFeeBps >= 10000 {
		return nil, errors.New("platform fee bps out of range")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:     params.Repo,
		listings: params.Listings,
		orders:   params.Orders,
		tx:       params.Tx,
		notifier: params.Notifier,
		cfg:      params.Config,
		now:      params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Offer, error) {
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	if input.Actor.Role != enums.ActorRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "buyer role required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer amount required")
	}

	var created *models.Offer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		listing, err := s.listings.WithTx(tx).FindByID(ctx, input.ListingID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
			}
			return err
		}
		if listing.SoldAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "listing already sold")
		}
		if listing.SellerID == input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeValidation, "cannot offer on own listing")
		}

		now := s.now()
		amount := input.AmountCents
		offer := &models.Offer{
			ListingID:   listing.ID,
			BuyerID:     input.Actor.UserID,
			SellerID:    listing.SellerID,
			Status:      enums.OfferStatusOpen,
			AmountCents: amount,
			Currency:    listing.Currency,
			ExpiresAt:   now.Add(s.cfg.DefaultTTL),
			History: types.OfferHistory{}.Append(types.OfferHistoryEntry{
				Action:    "created",
				ActorID:   &input.Actor.UserID,
				ActorRole: string(input.Actor.Role),
				Amount:    &amount,
				At:        now,
			}),
		}
		created, err = s.repo.WithTx(tx).Create(ctx, offer)
		if err != nil {
			return err
		}
		return s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         enums.EventOrderStateChanged,
			TargetUserID: listing.SellerID,
			EntityType:   enums.AggregateOffer,
			EntityID:     created.ID,
			Payload:      map[string]any{"amount_cents": amount},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Counter(ctx context.Context, input CounterInput) error {
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "counter amount required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		offer, err := s.find(ctx, repo, input.OfferID)
		if err != nil {
			return err
		}
		if input.Actor.Role != enums.ActorRoleSeller || input.Actor.UserID != offer.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller may counter")
		}
		if offer.Status != enums.OfferStatusOpen && offer.Status != enums.OfferStatusCountered {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot counter a %s offer", offer.Status))
		}

		now := s.now()
		amount := input.AmountCents
		history := offer.History.Append(types.OfferHistoryEntry{
			Action:    "countered",
			ActorID:   &input.Actor.UserID,
			ActorRole: string(input.Actor.Role),
			Amount:    &amount,
			Note:      input.Note,
			At:        now,
		})
		affected, err := repo.TransitionStatus(ctx, offer.ID, offer.Status, enums.OfferStatusCountered, map[string]any{
			"amount_cents": amount,
			"history":      history,
			"expires_at":   now.Add(s.cfg.DefaultTTL),
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "offer changed concurrently")
		}
		return s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         enums.EventOfferCountered,
			TargetUserID: offer.BuyerID,
			EntityType:   enums.AggregateOffer,
			EntityID:     offer.ID,
			Payload:      map[string]any{"amount_cents": amount},
		})
	})
}

// Accept closes negotiation: the listing is reserved for this offer, the
// pending-payment order is created with the fee split, and the buyer has
// until the payment window closes before the sweep releases everything.
func (s *service) Accept(ctx context.Context, input AcceptInput) (*models.Order, error) {
	if !input.TransportMode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transport mode required")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		offer, err := s.find(ctx, repo, input.OfferID)
		if err != nil {
			return err
		}
		if err := s.authorizeAccept(*offer, input.Actor); err != nil {
			return err
		}
		if offer.Status != enums.OfferStatusOpen && offer.Status != enums.OfferStatusCountered {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot accept a %s offer", offer.Status))
		}

		now := s.now()
		reserved, err := s.listings.WithTx(tx).Reserve(ctx, offer.ListingID, offer.ID, now)
		if err != nil {
			return err
		}
		if reserved == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "listing already reserved or sold")
		}

		amount := offer.AmountCents
		windowEnd := now.Add(s.cfg.PaymentWindow)
		history := offer.History.Append(types.OfferHistoryEntry{
			Action:    "accepted",
			ActorID:   &input.Actor.UserID,
			ActorRole: string(input.Actor.Role),
			Amount:    &amount,
			At:        now,
		})
		affected, err := repo.TransitionStatus(ctx, offer.ID, offer.Status, enums.OfferStatusAccepted, map[string]any{
			"accepted_at":        now,
			"payment_window_end": windowEnd,
			"history":            history,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "offer changed concurrently")
		}

		fee := platformFee(amount, s.cfg.PlatformFeeBps)
		order, err = s.orders.WithTx(tx).Create(ctx, &models.Order{
			BuyerID:          offer.BuyerID,
			SellerID:         offer.SellerID,
			ListingID:        offer.ListingID,
			OfferID:          &offer.ID,
			Currency:         offer.Currency,
			GrossCents:       amount,
			PlatformFeeCents: fee,
			SellerNetCents:   amount - fee,
			Status:           enums.TransactionStatusPendingPayment,
			TransportMode:    input.TransportMode,
		})
		if err != nil {
			return err
		}

		counterparty := offer.BuyerID
		if input.Actor.UserID == offer.BuyerID {
			counterparty = offer.SellerID
		}
		return s.notifier.EmitTx(ctx, tx, notifications.Event{
			Type:         enums.EventOfferAccepted,
			TargetUserID: counterparty,
			EntityType:   enums.AggregateOffer,
			EntityID:     offer.ID,
			Payload: map[string]any{
				"order_id":           order.ID,
				"payment_window_end": windowEnd,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) find(ctx context.Context, repo Repository, offerID uuid.UUID) (*models.Offer, error) {
	if offerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id required")
	}
	offer, err := repo.FindByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
		}
		return nil, err
	}
	return offer, nil
}

// authorizeAccept lets the seller accept an open offer and the buyer accept a
// counter; nobody accepts their own standing amount.
func (s *service) authorizeAccept(offer models.Offer, actor orders.Actor) error {
	switch offer.Status {
	case enums.OfferStatusOpen:
		if actor.Role == enums.ActorRoleSeller && actor.UserID == offer.SellerID {
			return nil
		}
	case enums.OfferStatusCountered:
		if actor.Role == enums.ActorRoleBuyer && actor.UserID == offer.BuyerID {
			return nil
		}
	}
	if actor.Role == enums.ActorRoleAdmin {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to accept this offer")
}

// platformFee computes the marketplace cut in exact cents, rounding the
// basis-point split half-up.
func platformFee(amountCents, bps int) int {
	fee := decimal.NewFromInt(int64(amountCents)).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	return int(fee.IntPart())
}
