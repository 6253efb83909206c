// Package discountupdate обрабатывает изменение промокодов администратором.
package discountupdate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// Service определяет интерфейс для изменения скидки.
type Service interface {
	UpdateDiscount(ctx context.Context, discount models.Discount) (int, error)
}

// Handler обрабатывает запросы на изменение промокода.
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

// ServeHTTP обновляет процент, срок действия и активность скидки.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.discount.update"
	log := h.log.With(slog.String("op", op))

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid discount id"))
		return
	}

	var req models.DummyDiscount
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

	discount := models.Discount{
		ID:         id,
		Code:       req.Code,
		Percentage: req.Percentage,
		IsActive:   true,
	}
	if req.IsActive != nil {
		discount.IsActive = *req.IsActive
	}
	if req.ValidUntil != "" {
		t, err := time.Parse(time.RFC3339, req.ValidUntil)
		if err != nil {
			log.Error("invalid valid_until", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("valid_until must be a RFC3339 timestamp"))
			return
		}
		discount.ValidUntil = &t
	}

	rows, err := h.service.UpdateDiscount(r.Context(), discount)
	if err != nil {
		if errors.Is(err, repository.ErrDiscountNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("discount not found"))
			return
		}
		log.Error("failed to update discount", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if rows == 0 {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("discount not found"))
		return
	}

	log.Info("updated discount", slog.Int("id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]int{"id": id}))
}
