// Package keyreissue обрабатывает операторскую выдачу или продление
// ключа — ручная сверка после частичных сбоев оплаты.
package keyreissue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// ReissueKeyRequestApp запрос продления или выдачи ключа оператором.
type ReissueKeyRequestApp struct {
	Days int `json:"days" validate:"required,min=1"`
}

// Service определяет интерфейс операторской выдачи ключа.
type Service interface {
	ReissueKey(ctx context.Context, telegramID string, days int) (*models.AccessKey, error)
}

// Handler обрабатывает операторские запросы выдачи ключа.
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

// ServeHTTP godoc
// @Summary Выдать или продлить ключ вручную
// @Description Продлевает действующий ключ подписчика или выдаёт новый. Ручной инструмент сверки.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param id path string true "Telegram ID подписчика"
// @Param request body ReissueKeyRequestApp true "Срок в днях"
// @Success 200 {object} response.Response "Ключ выдан или продлён"
// @Failure 404 {object} response.ErrorResponse "Подписчик не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Панель недоступна"
// @Router /admin/subscribers/{id}/key [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.keyreissue"
	log := h.log.With(slog.String("op", op))

	telegramID := chi.URLParam(r, "id")

	var req ReissueKeyRequestApp
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	key, err := h.service.ReissueKey(r.Context(), telegramID, req.Days)
	if err != nil {
		if errors.Is(err, provisioning.ErrSubscriberNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscriber not found"))
			return
		}
		log.Error("failed to reissue key", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("failed to reissue key"))
		return
	}

	log.Info("key reissued", slog.String("telegram_id", telegramID), slog.Int("days", req.Days))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"client_uuid": key.ClientUUID,
		"link":        key.Link,
		"expires_at":  key.ExpiresAt,
	}))
}
