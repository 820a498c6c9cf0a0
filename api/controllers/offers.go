package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/api/responses"
	"github.com/angelmondragon/marketloop-backend/api/validators"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	internalorders "github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

type offerResponse struct {
	ID               uuid.UUID          `json:"id"`
	ListingID        uuid.UUID          `json:"listing_id"`
	BuyerID          uuid.UUID          `json:"buyer_id"`
	SellerID         uuid.UUID          `json:"seller_id"`
	Status           enums.OfferStatus  `json:"status"`
	AmountCents      int                `json:"amount_cents"`
	Currency         enums.Currency     `json:"currency"`
	History          types.OfferHistory `json:"history"`
	ExpiresAt        time.Time          `json:"expires_at"`
	AcceptedAt       *time.Time         `json:"accepted_at,omitempty"`
	PaymentWindowEnd *time.Time         `json:"payment_window_end,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func newOfferResponse(offer models.Offer) offerResponse {
	return offerResponse{
		ID:               offer.ID,
		ListingID:        offer.ListingID,
		BuyerID:          offer.BuyerID,
		SellerID:         offer.SellerID,
		Status:           offer.Status,
		AmountCents:      offer.AmountCents,
		Currency:         offer.Currency,
		History:          offer.History,
		ExpiresAt:        offer.ExpiresAt,
		AcceptedAt:       offer.AcceptedAt,
		PaymentWindowEnd: offer.PaymentWindowEnd,
		CreatedAt:        offer.CreatedAt,
	}
}

func parseOfferID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "offerId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid offer id")
	}
	return id, nil
}

type createOfferRequest struct {
	ListingID   uuid.UUID `json:"listing_id" validate:"required"`
	AmountCents int       `json:"amount_cents" validate:"required,gt=0"`
}

// CreateOffer opens a buyer's bid on a listing.
func CreateOffer(svc offers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOfferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offer, err := svc.Create(r.Context(), offers.CreateInput{
			ListingID:   req.ListingID,
			Actor:       actorFrom(r),
			AmountCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOfferResponse(*offer))
	}
}

type counterOfferRequest struct {
	AmountCents int    `json:"amount_cents" validate:"required,gt=0"`
	Note        string `json:"note"`
}

// CounterOffer replaces the standing amount with the seller's counter and
// resets the expiry clock.
func CounterOffer(svc offers.Service, repo offers.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offerID, err := parseOfferID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req counterOfferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := offers.CounterInput{
			OfferID:     offerID,
			Actor:       actorFrom(r),
			AmountCents: req.AmountCents,
			Note:        req.Note,
		}
		if err := svc.Counter(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offer, err := repo.FindByID(r.Context(), offerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload offer"))
			return
		}
		responses.WriteSuccess(w, newOfferResponse(*offer))
	}
}

type acceptOfferRequest struct {
	TransportMode string `json:"transport_mode" validate:"required,oneof=carrier_delivery buyer_pickup"`
}

// AcceptOffer closes negotiation, reserves the listing, and creates the
// pending-payment order the buyer must fund within the payment window.
func AcceptOffer(svc offers.Service, ordersSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offerID, err := parseOfferID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req acceptOfferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := enums.ParseTransportMode(req.TransportMode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transport mode"))
			return
		}
		order, err := svc.Accept(r.Context(), offers.AcceptInput{
			OfferID:       offerID,
			Actor:         actorFrom(r),
			TransportMode: mode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := ordersSvc.Get(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(*view))
	}
}
