// Package tierlist отдаёт тарифную сетку для витрины чат-слоя.
package tierlist

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
)

// Service определяет интерфейс доступа к тарифам.
type Service interface {
	Tiers() []config.Tier
}

// Handler обрабатывает запросы тарифной сетки.
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
// @Summary Тарифная сетка
// @Tags Subscribers
// @Produce  json
// @Success 200 {object} response.Response "Список тарифов"
// @Router /tiers [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tiers := h.service.Tiers()
	items := make([]map[string]any, 0, len(tiers))
	for _, t := range tiers {
		items = append(items, map[string]any{
			"months":    t.Months,
			"price_rub": t.PriceRub,
		})
	}
	render.JSON(w, r, response.OKWithData(items))
}
