package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketloop-backend/api/middleware"
	"github.com/angelmondragon/marketloop-backend/api/responses"
	"github.com/angelmondragon/marketloop-backend/api/validators"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/types"
)

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

func actorFrom(r *http.Request) orders.Actor {
	return orders.Actor{
		UserID: middleware.ActorIDFromContext(r.Context()),
		Role:   middleware.ActorRoleFromContext(r.Context()),
	}
}

// writeOrder re-reads the order and returns its derived view, so an
// already-applied transition and a freshly applied one answer identically.
func writeOrder(w http.ResponseWriter, r *http.Request, svc orders.Service, logg *logger.Logger, orderID uuid.UUID) {
	view, err := svc.Get(r.Context(), orderID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, newOrderResponse(*view))
}

// GetOrder returns one order with its derived status and permitted next
// transitions.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type attachPaymentRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
}

// AttachPayment links the gateway payment the buyer's client created to its
// order so webhook delivery can resolve it.
func AttachPayment(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req attachPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.AttachPaymentInput{
			OrderID:          orderID,
			Actor:            actorFrom(r),
			GatewayPaymentID: req.GatewayPaymentID,
		}
		if err := svc.AttachPayment(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type scheduleDeliveryRequest struct {
	EstimatedArrival time.Time `json:"estimated_arrival" validate:"required"`
	Carrier          string    `json:"carrier" validate:"required"`
	TrackingRef      string    `json:"tracking_ref"`
}

func ScheduleDelivery(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req scheduleDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.ScheduleDeliveryInput{
			OrderID:          orderID,
			Actor:            actorFrom(r),
			EstimatedArrival: req.EstimatedArrival,
			Carrier:          req.Carrier,
			TrackingRef:      req.TrackingRef,
		}
		if err := svc.ScheduleDelivery(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

func MarkOutForDelivery(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.MarkOutForDeliveryInput{OrderID: orderID, Actor: actorFrom(r)}
		if err := svc.MarkOutForDelivery(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type markDeliveredRequest struct {
	ProofRefs []string `json:"proof_refs"`
}

func MarkDelivered(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req markDeliveredRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.MarkDeliveredInput{
			OrderID:   orderID,
			Actor:     actorFrom(r),
			ProofRefs: req.ProofRefs,
		}
		if err := svc.MarkDelivered(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

func ConfirmReceipt(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.ConfirmReceiptInput{OrderID: orderID, Actor: actorFrom(r)}
		if err := svc.ConfirmReceipt(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type timeWindowRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

type setPickupInfoRequest struct {
	Location         string              `json:"location" validate:"required"`
	OfferedWindows   []timeWindowRequest `json:"offered_windows" validate:"required,min=1,dive"`
	ConfirmationCode string              `json:"confirmation_code" validate:"required"`
}

func SetPickupInfo(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req setPickupInfoRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		windows := make([]types.TimeWindow, 0, len(req.OfferedWindows))
		for _, win := range req.OfferedWindows {
			windows = append(windows, types.TimeWindow{Start: win.Start, End: win.End})
		}
		input := orders.SetPickupInfoInput{
			OrderID:          orderID,
			Actor:            actorFrom(r),
			Location:         req.Location,
			OfferedWindows:   windows,
			ConfirmationCode: req.ConfirmationCode,
		}
		if err := svc.SetPickupInfo(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type selectPickupWindowRequest struct {
	Window timeWindowRequest `json:"window" validate:"required"`
}

func SelectPickupWindow(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req selectPickupWindowRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.SelectPickupWindowInput{
			OrderID: orderID,
			Actor:   actorFrom(r),
			Window:  types.TimeWindow{Start: req.Window.Start, End: req.Window.End},
		}
		if err := svc.SelectPickupWindow(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type confirmPickupRequest struct {
	Code string `json:"code" validate:"required"`
}

func ConfirmPickup(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req confirmPickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.ConfirmPickupInput{
			OrderID: orderID,
			Actor:   actorFrom(r),
			Code:    req.Code,
		}
		if err := svc.ConfirmPickup(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type openDisputeRequest struct {
	Reason       string   `json:"reason" validate:"required"`
	EvidenceRefs []string `json:"evidence_refs"`
}

func OpenDispute(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req openDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.OpenDisputeInput{
			OrderID:      orderID,
			Actor:        actorFrom(r),
			Reason:       req.Reason,
			EvidenceRefs: req.EvidenceRefs,
		}
		if err := svc.OpenDispute(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}
