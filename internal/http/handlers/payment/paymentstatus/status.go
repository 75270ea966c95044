// Package paymentstatus отдаёт сохранённый статус платежа. Параметр
// refresh=1 дополнительно опрашивает шлюз — ручной fallback к вебхукам.
package paymentstatus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/portal-vpn/internal/http/response"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// Service определяет интерфейс чтения платежа.
type Service interface {
	GetPayment(ctx context.Context, transactionID string, refresh bool) (*models.PaymentIntent, error)
}

// Handler обрабатывает запросы статуса платежа.
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
// @Summary Статус платежа
// @Description Возвращает сохранённый статус транзакции. При refresh=1 опрашивает шлюз.
// @Tags Payments
// @Produce  json
// @Param transactionID path string true "ID транзакции"
// @Param refresh query string false "Опросить шлюз, если платёж ещё pending"
// @Success 200 {object} response.Response "Статус платежа"
// @Failure 404 {object} response.ErrorResponse "Платёж не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /payments/{transactionID} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.status"
	log := h.log.With(slog.String("op", op))

	transactionID := chi.URLParam(r, "transactionID")
	refresh := r.URL.Query().Get("refresh") == "1"

	intent, err := h.service.GetPayment(r.Context(), transactionID, refresh)
	if err != nil {
		if errors.Is(err, provisioning.ErrPaymentNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("payment not found"))
			return
		}
		log.Error("failed to read payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"transaction_id": intent.TransactionID,
		"status":         intent.Status,
		"amount":         intent.AmountKopecks,
		"currency":       intent.Currency,
		"months":         intent.SubscriptionMonths,
		"created_at":     intent.CreatedAt,
		"completed_at":   intent.CompletedAt,
	}))
}
