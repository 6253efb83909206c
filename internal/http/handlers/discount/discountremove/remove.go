// Package discountremove обрабатывает удаление промокодов администратором.
package discountremove

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
)

// Service определяет интерфейс для удаления скидки.
type Service interface {
	RemoveDiscount(ctx context.Context, id int) (int, error)
}

// Handler обрабатывает запросы на удаление промокода.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP удаляет скидку; уже применённые платежи сохраняются.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.discount.remove"
	log := h.log.With(slog.String("op", op))

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid discount id"))
		return
	}

	rows, err := h.service.RemoveDiscount(r.Context(), id)
	if err != nil {
		log.Error("failed to remove discount", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if rows == 0 {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("discount not found"))
		return
	}

	log.Info("removed discount", slog.Int("id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]int{"id": id}))
}
