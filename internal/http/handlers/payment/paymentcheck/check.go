// Package paymentcheck обрабатывает проверку статуса платежа.
package paymentcheck

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// Service определяет интерфейс для проверки статуса платежа.
type Service interface {
	Check(ctx context.Context, clientPaymentID string) (*models.PaymentStatusInfo, error)
}

// Handler обрабатывает запросы статуса платежа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP возвращает состояние платежа, при необходимости выполняя
// сверку с блокчейном.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.check"
	log := h.log.With(slog.String("op", op))

	clientPaymentID := chi.URLParam(r, "client_payment_id")
	if clientPaymentID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("client_payment_id is required"))
		return
	}

	info, err := h.service.Check(r.Context(), clientPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			log.Error("payment not found", slog.String("client_payment_id", clientPaymentID))
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("payment not found"))
			return
		}
		log.Error("failed to check payment", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(info))
}
