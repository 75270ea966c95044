// Package read отдаёт текущее состояние подписчика.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// Service определяет интерфейс чтения подписчика.
type Service interface {
	GetSubscriber(ctx context.Context, telegramID string) (*provisioning.SubscriberView, error)
}

// Handler обрабатывает запросы состояния подписчика.
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
// @Summary Состояние подписчика
// @Tags Subscribers
// @Produce  json
// @Param id path string true "Telegram ID подписчика"
// @Success 200 {object} response.Response "Состояние подписчика"
// @Failure 404 {object} response.ErrorResponse "Подписчик не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /subscribers/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscriber.read"
	log := h.log.With(slog.String("op", op))

	telegramID := chi.URLParam(r, "id")

	view, err := h.service.GetSubscriber(r.Context(), telegramID)
	if err != nil {
		if errors.Is(err, provisioning.ErrSubscriberNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscriber not found"))
			return
		}
		log.Error("failed to read subscriber", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OKWithData(view))
}
