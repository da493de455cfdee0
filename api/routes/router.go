package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/basketly/basketly-backend/api/controllers"
	"github.com/basketly/basketly-backend/api/middleware"
	"github.com/basketly/basketly-backend/internal/assignment"
	internalorders "github.com/basketly/basketly-backend/internal/orders"
	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/logger"
)

// NewRouter assembles the full HTTP surface of the API binary.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	pingers map[string]controllers.Pinger,
	ordersSvc internalorders.Service,
	assignSvc assignment.Service,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.Checkout(ordersSvc, logg))
			r.Get("/{orderId}/status", controllers.OrderStatus(ordersSvc, logg))
			r.Post("/{orderId}/verify-payment", controllers.VerifyPayment(ordersSvc, logg))
			r.Post("/{orderId}/delivery", controllers.UpdateDelivery(ordersSvc, logg))
			r.Post("/{orderId}/verify-otp", controllers.VerifyOTP(ordersSvc, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersSvc, logg))
		})

		r.Route("/delivery", func(r chi.Router) {
			r.Post("/orders/{orderId}/accept", controllers.AcceptOrder(assignSvc, logg))
			r.Post("/orders/{orderId}/reject", controllers.RejectOrder(assignSvc, logg))
			r.Post("/orders/{orderId}/otp", controllers.GenerateOTP(ordersSvc, logg))
			r.Post("/agents/{agentId}/availability", controllers.ToggleAvailability(assignSvc, logg))
			r.Post("/agents/{agentId}/location", controllers.UpdateLocation(assignSvc, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/assignment/sweep-timeouts", controllers.SweepTimeouts(assignSvc, logg))
			r.Post("/assignment/retry-pending", controllers.RetryPending(assignSvc, logg))
			r.Post("/orders/{orderId}/reassign", controllers.ForceReassign(assignSvc, logg))
		})
	})

	return r
}
