package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketloop-backend/api/responses"
	"github.com/angelmondragon/marketloop-backend/api/validators"
	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/sellers"
	"github.com/angelmondragon/marketloop-backend/pkg/db/models"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/pagination"
)

type freezeSellerRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// FreezeSeller suspends a seller's payouts pending review. Repeated freezes
// are idempotent.
func FreezeSeller(svc sellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "sellerId"))
		sellerID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller id"))
			return
		}
		var req freezeSellerRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := sellers.FreezeInput{
			SellerID: sellerID,
			Actor:    actorFrom(r),
			Reason:   req.Reason,
		}
		if err := svc.Freeze(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "frozen"})
	}
}

type adminNoteRequest struct {
	Note string `json:"note" validate:"required"`
}

// AddAdminNote appends reviewer notes to an order.
func AddAdminNote(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adminNoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.AdminNoteInput{
			OrderID: orderID,
			Actor:   actorFrom(r),
			Note:    req.Note,
		}
		if err := svc.AddAdminNote(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

// MarkReviewed stamps an order as administratively reviewed.
func MarkReviewed(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := orders.MarkReviewedInput{OrderID: orderID, Actor: actorFrom(r)}
		if err := svc.MarkReviewed(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOrder(w, r, svc, logg, orderID)
	}
}

type auditEntryResponse struct {
	ID         uuid.UUID                `json:"id"`
	Action     enums.AuditAction        `json:"action"`
	ActorID    *uuid.UUID               `json:"actor_id,omitempty"`
	ActorRole  enums.ActorRole          `json:"actor_role"`
	FromStatus *enums.TransactionStatus `json:"from_status,omitempty"`
	ToStatus   *enums.TransactionStatus `json:"to_status,omitempty"`
	Detail     *string                  `json:"detail,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
}

// OrderAuditTrail lists the audit entries for one order, oldest first.
func OrderAuditTrail(recorder *audit.Recorder, db *gorm.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := recorder.ListForOrder(db.WithContext(r.Context()), orderID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit trail"))
			return
		}
		out := make([]auditEntryResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, auditEntryResponse{
				ID:         row.ID,
				Action:     row.Action,
				ActorID:    row.ActorID,
				ActorRole:  row.ActorRole,
				FromStatus: row.FromStatus,
				ToStatus:   row.ToStatus,
				Detail:     row.Detail,
				CreatedAt:  row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

type gatewayRefundResponse struct {
	ID          uuid.UUID `json:"id"`
	RefundID    string    `json:"refund_id"`
	AmountCents int       `json:"amount_cents"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderRefunds lists the gateway refunds recorded against one order, oldest
// first.
func OrderRefunds(ledger *orders.RefundLedger, db *gorm.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := ledger.ListForOrder(db.WithContext(r.Context()), orderID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list gateway refunds"))
			return
		}
		out := make([]gatewayRefundResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, gatewayRefundResponse{
				ID:          row.ID,
				RefundID:    row.RefundID,
				AmountCents: row.AmountCents,
				Status:      row.Status,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

type dlqLister interface {
	ListPage(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.OutboxDLQ, error)
}

type dlqEntryResponse struct {
	ID            uuid.UUID                 `json:"id"`
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   uuid.UUID                 `json:"aggregate_id"`
	ErrorReason   string                    `json:"error_reason"`
	ErrorMessage  *string                   `json:"error_message,omitempty"`
	AttemptCount  int                       `json:"attempt_count"`
	FailedAt      time.Time                 `json:"failed_at"`
}

type dlqPageResponse struct {
	Items      []dlqEntryResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// ListDeadLetters pages through notification events the publisher gave up
// on, newest failures first.
func ListDeadLetters(repo dlqLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor"))
			return
		}

		rows, err := repo.ListPage(r.Context(), cursor, pagination.LimitWithBuffer(limit))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		page, more := pagination.TrimPage(rows, limit)

		out := dlqPageResponse{Items: make([]dlqEntryResponse, 0, len(page))}
		for _, row := range page {
			out.Items = append(out.Items, dlqEntryResponse{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				ErrorReason:   row.ErrorReason,
				ErrorMessage:  row.ErrorMessage,
				AttemptCount:  row.AttemptCount,
				FailedAt:      row.FailedAt,
			})
		}
		if more && len(page) > 0 {
			last := page[len(page)-1]
			out.NextCursor = pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: last.CreatedAt,
				ID:        last.ID,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
