// Package purchasecreate обрабатывает создание счёта на покупку подписки.
package purchasecreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/middlewarectx"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/unique"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/services/payment"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// Service определяет интерфейс для создания счёта на покупку.
type Service interface {
	CreatePurchase(ctx context.Context, userUID string, req models.DummyPurchase) (*models.PurchaseInvoice, error)
}

// Handler обрабатывает запросы на покупку подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP создает намерение оплаты с уникальной суммой и возвращает
// реквизиты для перевода.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.purchasecreate"
	log := h.log.With(slog.String("op", op))

	var req models.DummyPurchase
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user UID not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	invoice, err := h.service.CreatePurchase(r.Context(), userUID, req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidLevel), errors.Is(err, payment.ErrUnsupportedCurrency):
			log.Error("invalid purchase request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
		case errors.Is(err, payment.ErrUnderage):
			log.Error("underage user", sl.Err(err))
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("user must be at least 18 years old"))
		case errors.Is(err, payment.ErrDowngradeNotAllowed):
			log.Error("downgrade rejected", sl.Err(err))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("downgrade is not allowed while subscription is active"))
		case errors.Is(err, unique.ErrNoUniqueAmount):
			log.Error("no unique amount available", sl.Err(err))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Error("no free payment amount, try again later"))
		case errors.Is(err, repository.ErrDiscountNotFound):
			log.Error("unknown promo code", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("unknown or inactive promo code"))
		default:
			log.Error("failed to create purchase", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("internal error"))
		}
		return
	}

	log.Info("created purchase invoice", slog.String("client_payment_id", invoice.ClientPaymentID))
	render.JSON(w, r, response.StatusOKWithData(invoice))
}
