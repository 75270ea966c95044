// Package inboundlist отдаёт список inbound'ов панели для диагностики.
package inboundlist

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
)

// Service определяет интерфейс доступа к inbound'ам панели.
type Service interface {
	ListInbounds(ctx context.Context) []panel.Inbound
}

// Handler обрабатывает админские запросы списка inbound'ов.
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
// @Summary Список inbound'ов панели
// @Description Возвращает inbound'ы панели 3x-ui. При недоступной панели список пуст.
// @Tags Admin
// @Produce  json
// @Success 200 {object} response.Response "Список inbound'ов"
// @Router /admin/inbounds [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.inboundlist"

	inbounds := h.service.ListInbounds(r.Context())
	h.log.Info("inbounds listed", slog.String("op", op), slog.Int("count", len(inbounds)))
	render.JSON(w, r, response.OKWithData(inbounds))
}
