package api

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/discount/discountcreate"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/discount/discountlist"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/discount/discountremove"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/discount/discountupdate"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/health"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/payment/paymentcheck"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/payment/paymentlist"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/payment/purchasecreate"
	sublist "github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/subscription/list"
	substatus "github.com/magabrotheeeer/crypto-subscriptions/internal/http/handlers/subscription/status"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/middlewarectx"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/jwt"
	paymentservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/payment"
	subservice "github.com/magabrotheeeer/crypto-subscriptions/internal/services/subscription"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, jwtMaker jwt.Maker,
	paymentService *paymentservice.Service, subscriptionService *subservice.Service,
	db *repository.Storage) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, 10, 30))
			r.Post("/purchases", purchasecreate.New(logger, paymentService).ServeHTTP)
			r.Get("/payments/check/{client_payment_id}", paymentcheck.New(logger, paymentService).ServeHTTP)
			r.Get("/payments/list", paymentlist.New(logger, paymentService).ServeHTTP)
			r.Get("/subscriptions/list", sublist.New(logger, subscriptionService).ServeHTTP)
			r.Get("/subscriptions/status", substatus.New(logger, subscriptionService).ServeHTTP)
		})

		// Админские маршруты промокодов
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.AdminOnly(logger))
			r.Post("/discounts", discountcreate.New(logger, db).ServeHTTP)
			r.Get("/discounts", discountlist.New(logger, db).ServeHTTP)
			r.Put("/discounts/{id}", discountupdate.New(logger, db).ServeHTTP)
			r.Delete("/discounts/{id}", discountremove.New(logger, db).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
