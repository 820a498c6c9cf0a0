package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketloop-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marketloop-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketloop-backend/api/middleware"
	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/refunds"
	"github.com/angelmondragon/marketloop-backend/internal/sellers"
	"github.com/angelmondragon/marketloop-backend/pkg/config"
	"github.com/angelmondragon/marketloop-backend/pkg/db"
	"github.com/angelmondragon/marketloop-backend/pkg/enums"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/outbox"
	"github.com/angelmondragon/marketloop-backend/pkg/square"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	squareClient *square.Client,
	squareWebhookSvc webhookcontrollers.SquareWebhookService,
	ordersSvc orders.Service,
	refundsSvc refunds.Service,
	offersSvc offers.Service,
	offersRepo offers.Repository,
	sellersSvc sellers.Service,
	auditRecorder *audit.Recorder,
	refundLedger *orders.RefundLedger,
	dlqRepo *outbox.DLQRepository,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbClient, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(squareWebhookSvc, squareClient, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))

		r.Route("/offers", func(r chi.Router) {
			r.Post("/", controllers.CreateOffer(offersSvc, logg))
			r.Post("/{offerId}/counter", controllers.CounterOffer(offersSvc, offersRepo, logg))
			r.Post("/{offerId}/accept", controllers.AcceptOffer(offersSvc, ordersSvc, logg))
		})

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.GetOrder(ordersSvc, logg))
			r.Post("/payment", controllers.AttachPayment(ordersSvc, logg))

			r.Post("/schedule-delivery", controllers.ScheduleDelivery(ordersSvc, logg))
			r.Post("/out-for-delivery", controllers.MarkOutForDelivery(ordersSvc, logg))
			r.Post("/delivered", controllers.MarkDelivered(ordersSvc, logg))
			r.Post("/confirm-receipt", controllers.ConfirmReceipt(ordersSvc, logg))

			r.Post("/pickup-info", controllers.SetPickupInfo(ordersSvc, logg))
			r.Post("/pickup-window", controllers.SelectPickupWindow(ordersSvc, logg))
			r.Post("/confirm-pickup", controllers.ConfirmPickup(ordersSvc, logg))

			r.Post("/dispute", controllers.OpenDispute(ordersSvc, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))

			r.Post("/sellers/{sellerId}/freeze", controllers.FreezeSeller(sellersSvc, logg))
			r.Get("/outbox/dlq", controllers.ListDeadLetters(dlqRepo, logg))

			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Post("/refund", controllers.Refund(refundsSvc, ordersSvc, logg))
				r.Post("/resolve-dispute", controllers.ResolveDispute(refundsSvc, ordersSvc, logg))
				r.Post("/notes", controllers.AddAdminNote(ordersSvc, logg))
				r.Post("/reviewed", controllers.MarkReviewed(ordersSvc, logg))
				r.Get("/audit", controllers.OrderAuditTrail(auditRecorder, dbClient.DB(), logg))
				r.Get("/refunds", controllers.OrderRefunds(refundLedger, dbClient.DB(), logg))
			})
		})
	})

	return r
}
