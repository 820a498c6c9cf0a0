package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketloop-backend/api/responses"
	"github.com/angelmondragon/marketloop-backend/api/validators"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/refunds"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
)

type refundRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=full partial"`
	AmountCents int64  `json:"amount_cents" validate:"omitempty,gt=0"`
	Reason      string `json:"reason" validate:"required"`
}

// Refund issues a full or partial refund through the payment gateway. A
// request that loses the in-progress race gets a conflict and should be
// retried after the marker clears.
func Refund(svc refunds.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := refunds.RefundInput{
			OrderID:     orderID,
			Actor:       actorFrom(r),
			Kind:        refunds.Kind(req.Kind),
			AmountCents: req.AmountCents,
			Reason:      req.Reason,
		}
		if err := svc.Refund(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, ordersSvc, logg, orderID)
	}
}

type resolveDisputeRequest struct {
	Resolution  string `json:"resolution" validate:"required,oneof=uphold reverse partial_reverse"`
	AmountCents int64  `json:"amount_cents" validate:"omitempty,gt=0"`
	Note        string `json:"note"`
}

// ResolveDispute closes an open dispute: uphold completes the order, reverse
// refunds in full, partial_reverse refunds the stated amount and completes.
func ResolveDispute(svc refunds.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := enums.ParseDisputeResolution(req.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}
		input := refunds.ResolveDisputeInput{
			OrderID:     orderID,
			Actor:       actorFrom(r),
			Resolution:  resolution,
			AmountCents: req.AmountCents,
			Note:        req.Note,
		}
		if err := svc.ResolveDispute(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, ordersSvc, logg, orderID)
	}
}
