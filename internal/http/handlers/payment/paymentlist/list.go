// Package paymentlist отдаёт историю платежей подписчика.
package paymentlist

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
)

// Service определяет интерфейс чтения истории платежей.
type Service interface {
	ListPayments(ctx context.Context, subscriberID string, limit, offset int) ([]*models.PaymentIntent, error)
}

// Handler обрабатывает запросы истории платежей.
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
// @Summary История платежей подписчика
// @Tags Payments
// @Produce  json
// @Param id path string true "Telegram ID подписчика"
// @Param limit query int false "Количество записей, по умолчанию 20"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response "Список платежей"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /subscribers/{id}/payments [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.list"
	log := h.log.With(slog.String("op", op))

	telegramID := chi.URLParam(r, "id")

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	payments, err := h.service.ListPayments(r.Context(), telegramID, limit, offset)
	if err != nil {
		log.Error("failed to list payments", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	items := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		items = append(items, map[string]any{
			"transaction_id": p.TransactionID,
			"status":         p.Status,
			"amount":         p.AmountKopecks,
			"currency":       p.Currency,
			"months":         p.SubscriptionMonths,
			"created_at":     p.CreatedAt,
		})
	}
	render.JSON(w, r, response.OKWithData(items))
}
