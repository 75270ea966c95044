package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/portal-vpn/internal/metrics"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
)

// PaymentRequest запрос на создание платежа за премиум-подписку.
type PaymentRequest struct {
	TelegramID string
	Months     int
	Username   string
	FirstName  string
	LastName   string
	ReturnURL  string
	FailedURL  string
}

// CreatePayment создаёт транзакцию в шлюзе и сохраняет PaymentIntent
// в состоянии pending. Намерение записывается до того, как ссылка на
// оплату возвращается вызывающему: вебхук, пришедший раньше ответа,
// обязан найти свой intent.
func (s *Service) CreatePayment(ctx context.Context, req PaymentRequest) (*models.PaymentIntent, error) {
	const op = "provisioning.CreatePayment"

	priceRub, ok := s.priceFor(req.Months)
	if !ok {
		return nil, ErrUnknownTier
	}

	unlock := s.locks.Lock(req.TelegramID)
	defer unlock()

	now := time.Now()

	sub, found, err := s.repo.FindSubscriber(ctx, req.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		sub = &models.Subscriber{
			TelegramID:         req.TelegramID,
			SubscriptionStatus: models.SubscriptionNone,
			CreatedAt:          now,
		}
	}
	sub.Username = req.Username
	sub.FirstName = req.FirstName
	sub.LastName = req.LastName

	description := fmt.Sprintf("VPN premium, %d мес.", req.Months)
	created, err := s.gateway.CreatePayment(ctx, priceRub, description, req.TelegramID, req.ReturnURL, req.FailedURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	intent := &models.PaymentIntent{
		TransactionID:      created.TransactionID,
		ExternalID:         created.ExternalID,
		SubscriberID:       req.TelegramID,
		AmountKopecks:      created.AmountKopecks,
		Currency:           created.Currency,
		Status:             models.PaymentPending,
		SubscriptionMonths: req.Months,
		PaymentURL:         created.PaymentURL,
		CreatedAt:          now,
	}
	if err := s.repo.CreatePayment(ctx, intent); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.AppendPaymentRecord(ctx, models.PaymentRecord{
		SubscriberID:  req.TelegramID,
		TransactionID: created.TransactionID,
		AmountKopecks: created.AmountKopecks,
		Status:        models.PaymentPending,
		CreatedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub.LastPaymentID = created.TransactionID
	sub.LastPaymentStatus = models.PaymentPending
	if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateSubscriber(ctx, req.TelegramID)
	metrics.PaymentsCreated.Inc()

	s.log.Info("payment intent created",
		slog.String("telegram_id", req.TelegramID),
		slog.String("transaction_id", created.TransactionID),
		slog.Int("months", req.Months),
		slog.Int64("amount_kopecks", created.AmountKopecks),
	)

	return intent, nil
}

// GetPayment возвращает сохранённое намерение оплаты. При refresh и
// незавершённом статусе запрашивает актуальный статус у шлюза и
// применяет его так же, как при получении вебхука.
func (s *Service) GetPayment(ctx context.Context, transactionID string, refresh bool) (*models.PaymentIntent, error) {
	const op = "provisioning.GetPayment"

	intent, found, err := s.repo.FindPaymentByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, ErrPaymentNotFound
	}

	if refresh && intent.Status == models.PaymentPending {
		gatewayStatus, err := s.gateway.CheckStatus(ctx, transactionID)
		if err != nil {
			s.log.Warn("failed to poll gateway status", slog.String("transaction_id", transactionID))
			return intent, nil
		}
		status := normalizeGatewayStatus(gatewayStatus)
		if models.IsTerminalPaymentStatus(status) {
			if err := s.applyPaymentOutcome(ctx, intent, status); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			intent, _, err = s.repo.FindPaymentByTransactionID(ctx, transactionID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return intent, nil
}

// ListPayments возвращает историю платежей подписчика.
func (s *Service) ListPayments(ctx context.Context, subscriberID string, limit, offset int) ([]*models.PaymentIntent, error) {
	const op = "provisioning.ListPayments"

	payments, err := s.repo.ListPayments(ctx, subscriberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}
