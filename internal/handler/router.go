package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/storefront-fulfillment/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Вебхуки читают исходное тело для проверки подписи, поэтому идут без gzip.
		r.Post("/webhooks/paystack", h.PaystackWebhook)
		r.Post("/webhooks/flutterwave", h.FlutterwaveWebhook)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/payment/bank-details", h.BankDetails)
			r.Post("/products/{productID}/notify-me", h.NotifyMe)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/orders", h.PlaceOrder)
				r.Get("/orders/{orderID}", h.GetOrder)
				r.Post("/orders/{orderID}/cancel", h.CancelOrder)
				r.Post("/orders/{orderID}/payment", h.InitializePayment)
				r.Post("/orders/{orderID}/payment-proof", h.SubmitProof)
				r.Get("/payment/verify", h.VerifyPayment)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Use(custommiddleware.RequireRole(custommiddleware.RoleAdmin))

				r.Post("/orders/{orderID}/deliver", h.DeliverOrder)
				r.Post("/orders/{orderID}/payment-proof/review", h.ReviewProof)
				r.Get("/payments/pending", h.PendingVerifications)

				r.Post("/products/{productID}/stock", h.AdjustStock)
				r.Get("/products/{productID}/stock/history", h.StockHistory)
				r.Get("/products/{productID}/stock/audit", h.AuditStock)
				r.Post("/products/{productID}/alerts", h.RaiseAlert)
				r.Get("/stock/recent", h.RecentMovements)
				r.Get("/stock/low", h.LowStock)
				r.Post("/stock/sweep", h.SweepLowStock)

				r.Get("/notifications", h.ListNotifications)
				r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
