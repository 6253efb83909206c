// Package discountlist обрабатывает получение списка промокодов
// со счётчиками использований.
package discountlist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

// Service определяет интерфейс для получения скидок.
type Service interface {
	ListDiscounts(ctx context.Context, limit, offset int) ([]*models.DiscountInfo, error)
}

// Handler обрабатывает запросы списка промокодов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP возвращает скидки со счётчиками использований.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.discount.list"
	log := h.log.With(slog.String("op", op))

	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	discounts, err := h.service.ListDiscounts(r.Context(), limit, offset)
	if err != nil {
		log.Error("failed to list discounts", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(discounts))
}
