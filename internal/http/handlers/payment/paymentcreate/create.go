// Package paymentcreate обрабатывает создание платежа за премиум-подписку.
package paymentcreate

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

// CreatePaymentRequestApp представляет запрос на оплату тарифа.
type CreatePaymentRequestApp struct {
	Months    int    `json:"months" validate:"required,min=1"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ReturnURL string `json:"return_url"`
	FailedURL string `json:"failed_url"`
}

// Service определяет интерфейс создания платежа.
type Service interface {
	CreatePayment(ctx context.Context, req provisioning.PaymentRequest) (*models.PaymentIntent, error)
}

// Handler обрабатывает запросы на создание платежа.
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
// @Summary Создать платеж
// @Description Создает транзакцию в Platega на выбранный тариф и возвращает ссылку на оплату
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param id path string true "Telegram ID подписчика"
// @Param request body CreatePaymentRequestApp true "Тариф и профиль подписчика"
// @Success 200 {object} response.Response "Платёж создан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или неизвестный тариф"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка платёжного шлюза"
// @Router /subscribers/{id}/payments [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
	log := h.log.With(slog.String("op", op))

	telegramID := chi.URLParam(r, "id")
	if telegramID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("subscriber id is required"))
		return
	}

	var req CreatePaymentRequestApp
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

	intent, err := h.service.CreatePayment(r.Context(), provisioning.PaymentRequest{
		TelegramID: telegramID,
		Months:     req.Months,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		ReturnURL:  req.ReturnURL,
		FailedURL:  req.FailedURL,
	})
	if err != nil {
		if errors.Is(err, provisioning.ErrUnknownTier) {
			log.Error("unknown tier requested", slog.Int("months", req.Months))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("unknown subscription tier"))
			return
		}
		log.Error("failed to create payment", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider error"))
		return
	}

	log.Info("payment created",
		slog.String("telegram_id", telegramID),
		slog.String("transaction_id", intent.TransactionID),
	)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"transaction_id": intent.TransactionID,
		"payment_url":    intent.PaymentURL,
		"amount":         intent.AmountKopecks,
		"currency":       intent.Currency,
		"months":         intent.SubscriptionMonths,
	}))
}
