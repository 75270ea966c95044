// Package trial обрабатывает выдачу одноразового триального ключа.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// TrialRequestApp профиль подписчика, передаётся чат-слоем.
type TrialRequestApp struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Service определяет интерфейс выдачи триала.
type Service interface {
	IssueTrial(ctx context.Context, req provisioning.TrialRequest) (*models.AccessKey, error)
}

// Handler обрабатывает запросы на триальный ключ.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Выдать триальный ключ
// @Description Выдаёт одноразовый триальный ключ. Повторный запрос отклоняется со статусом 409.
// @Tags Subscribers
// @Accept  json
// @Produce  json
// @Param id path string true "Telegram ID подписчика"
// @Param request body TrialRequestApp false "Профиль подписчика"
// @Success 200 {object} response.Response "Ключ выдан"
// @Failure 409 {object} response.ErrorResponse "Триал уже использован"
// @Failure 502 {object} response.ErrorResponse "Панель недоступна"
// @Router /subscribers/{id}/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscriber.trial"
	log := h.log.With(slog.String("op", op))

	telegramID := chi.URLParam(r, "id")
	if telegramID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("subscriber id is required"))
		return
	}

	// Тело опционально: триал можно запросить без профиля.
	var req TrialRequestApp
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	key, err := h.service.IssueTrial(r.Context(), provisioning.TrialRequest{
		TelegramID: telegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		if errors.Is(err, provisioning.ErrTrialUsed) {
			log.Info("trial already used", slog.String("telegram_id", telegramID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("trial already used"))
			return
		}
		log.Error("failed to issue trial key", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("failed to issue trial key"))
		return
	}

	log.Info("trial key issued", slog.String("telegram_id", telegramID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"client_uuid": key.ClientUUID,
		"link":        key.Link,
		"expires_at":  key.ExpiresAt,
	}))
}
