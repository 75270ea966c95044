// Package paymentwebhook принимает уведомления платёжного шлюза Platega.
// Подпись проверяется по сырым байтам тела до любого парсинга.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
	"github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// Gateway проверяет подпись и декодирует тело уведомления.
type Gateway interface {
	VerifySignature(rawBody []byte, signature string) bool
	DecodeWebhook(rawBody []byte) (*paymentprovider.WebhookEvent, error)
}

// Service обрабатывает декодированное уведомление.
type Service interface {
	HandleWebhook(ctx context.Context, event *paymentprovider.WebhookEvent) error
}

// Handler обрабатывает HTTP-запросы вебхуков шлюза.
type Handler struct {
	log     *slog.Logger
	gateway Gateway
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, gateway Gateway, service Service) *Handler {
	return &Handler{
		log:     log,
		gateway: gateway,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Принимает уведомление Platega о смене статуса транзакции. Подпись в заголовке X-Signature.
// @Tags Payments
// @Accept  json
// @Success 200 "Уведомление принято"
// @Failure 400 "Некорректное тело уведомления"
// @Failure 401 "Неверная подпись"
// @Failure 404 "Транзакция неизвестна"
// @Failure 500 "Ошибка обработки"
// @Router /webhook/platega [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Signature")
	if !h.gateway.VerifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := h.gateway.DecodeWebhook(body)
	if err != nil {
		log.Error("failed to decode webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), event); err != nil {
		if errors.Is(err, provisioning.ErrPaymentNotFound) {
			log.Warn("webhook for unknown transaction",
				slog.String("transaction_id", event.TransactionID))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed",
		slog.String("transaction_id", event.TransactionID),
		slog.String("status", event.Status),
	)
	w.WriteHeader(http.StatusOK)
}
