// Package discountcreate обрабатывает создание промокодов администратором.
package discountcreate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/http/response"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

// Service определяет интерфейс для создания скидки.
type Service interface {
	CreateDiscount(ctx context.Context, discount models.Discount) (int, error)
}

// Handler обрабатывает запросы на создание промокода.
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

// ServeHTTP создает процентную скидку по промокоду.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.discount.create"
	log := h.log.With(slog.String("op", op))

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

	discount, err := discountFromRequest(req)
	if err != nil {
		log.Error("invalid valid_until", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("valid_until must be a RFC3339 timestamp"))
		return
	}

	id, err := h.service.CreateDiscount(r.Context(), discount)
	if err != nil {
		log.Error("failed to create discount", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("created discount", slog.Int("id", id), slog.String("code", req.Code))
	render.JSON(w, r, response.StatusOKWithData(map[string]int{"id": id}))
}

func discountFromRequest(req models.DummyDiscount) (models.Discount, error) {
	discount := models.Discount{
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
			return models.Discount{}, err
		}
		discount.ValidUntil = &t
	}
	return discount, nil
}
