package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/expiry"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/vless"
	"github.com/magabrotheeeer/portal-vpn/internal/metrics"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
)

// normalizeGatewayStatus приводит статус шлюза к внутреннему. Незнакомые
// значения сохраняются как есть, в нижнем регистре.
func normalizeGatewayStatus(gatewayStatus string) string {
	switch strings.ToUpper(gatewayStatus) {
	case "CONFIRMED", "SUCCESS", "PAID":
		return models.PaymentSuccess
	case "CANCELED", "CANCELLED":
		return models.PaymentCancelled
	case "DECLINED", "FAILED", "ERROR":
		return models.PaymentFailed
	case "REFUNDED":
		return models.PaymentRefunded
	case "PENDING", "CREATED", "PROCESSING":
		return models.PaymentPending
	default:
		return strings.ToLower(gatewayStatus)
	}
}

// HandleWebhook обрабатывает уже проверенное и декодированное
// уведомление шлюза. Повторная доставка терминального платежа
// подтверждается без побочных эффектов. Неизвестный transactionId —
// ErrPaymentNotFound, транспортный слой отвечает 404.
func (s *Service) HandleWebhook(ctx context.Context, event *paymentprovider.WebhookEvent) error {
	const op = "provisioning.HandleWebhook"

	intent, found, err := s.repo.FindPaymentByTransactionID(ctx, event.TransactionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		metrics.WebhooksProcessed.WithLabelValues("unknown").Inc()
		return ErrPaymentNotFound
	}

	status := normalizeGatewayStatus(event.Status)
	if !models.IsTerminalPaymentStatus(status) {
		s.log.Info("non-terminal webhook status, acknowledged",
			slog.String("transaction_id", event.TransactionID),
			slog.String("status", event.Status),
		)
		return nil
	}

	if err := s.applyPaymentOutcome(ctx, intent, status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// applyPaymentOutcome выполняет терминальный переход платежа и, при
// успехе, выдаёт премиум-ключ. Переход pending -> терминальный статус
// делается условным UPDATE: ноль затронутых строк означает повтор
// доставки, обрабатывать нечего.
func (s *Service) applyPaymentOutcome(ctx context.Context, intent *models.PaymentIntent, status string) error {
	unlock := s.locks.Lock(intent.SubscriberID)
	defer unlock()

	now := time.Now()
	var completedAt *time.Time
	if status == models.PaymentSuccess {
		completedAt = &now
	}

	affected, err := s.repo.MarkPaymentStatus(ctx, intent.TransactionID, status, completedAt)
	if err != nil {
		return fmt.Errorf("failed to mark payment status: %w", err)
	}
	if affected == 0 {
		metrics.WebhooksProcessed.WithLabelValues("replay").Inc()
		s.log.Info("duplicate webhook for terminal payment, acknowledged",
			slog.String("transaction_id", intent.TransactionID),
		)
		return nil
	}

	if err := s.repo.AppendPaymentRecord(ctx, models.PaymentRecord{
		SubscriberID:  intent.SubscriberID,
		TransactionID: intent.TransactionID,
		AmountKopecks: intent.AmountKopecks,
		Status:        status,
		CreatedAt:     now,
	}); err != nil {
		s.log.Error("failed to append payment record",
			slog.String("transaction_id", intent.TransactionID),
		)
	}

	sub, found, err := s.repo.FindSubscriber(ctx, intent.SubscriberID)
	if err != nil {
		return fmt.Errorf("failed to find subscriber: %w", err)
	}
	if !found {
		sub = &models.Subscriber{
			TelegramID:         intent.SubscriberID,
			SubscriptionStatus: models.SubscriptionNone,
			CreatedAt:          now,
		}
	}
	sub.LastPaymentID = intent.TransactionID
	sub.LastPaymentStatus = status

	if status != models.PaymentSuccess {
		if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscriber: %w", err)
		}
		s.invalidateSubscriber(ctx, intent.SubscriberID)
		metrics.WebhooksProcessed.WithLabelValues("failed_payment").Inc()
		if status == models.PaymentFailed {
			s.notifier.NotifyPaymentFailed(intent.SubscriberID, status)
		}
		return nil
	}

	// Деньги получены, выдаём ключ. Идентификатор клиента всегда новый,
	// прежний не переиспользуется.
	clientUUID := uuid.NewString()
	label := fmt.Sprintf("premium_%s_%d", intent.SubscriberID, now.UnixMilli())
	expiresAt := expiry.FromMonths(now, intent.SubscriptionMonths)

	identity := panel.ClientIdentity{ClientID: clientUUID, Label: label}
	if err := s.panel.GrantClient(ctx, identity, s.premiumInboundID, expiresAt); err != nil {
		// Платёж уже терминально успешен, а ключа нет. Автоматических
		// повторов не делаем: состояние отдаётся оператору на ручную
		// сверку, подписчику уходит извинение. Ключ подписчика не
		// трогаем.
		metrics.PanelGrants.WithLabelValues("error").Inc()
		metrics.WebhooksProcessed.WithLabelValues("grant_failed").Inc()
		s.log.Error("panel grant failed after successful payment",
			slog.String("transaction_id", intent.TransactionID),
			slog.String("telegram_id", intent.SubscriberID),
		)
		if upsertErr := s.repo.UpsertSubscriber(ctx, sub); upsertErr != nil {
			s.log.Error("failed to save subscriber after grant failure",
				slog.String("telegram_id", intent.SubscriberID),
			)
		}
		s.invalidateSubscriber(ctx, intent.SubscriberID)
		s.raiseAlert(models.OperatorAlert{
			SubscriberID:  intent.SubscriberID,
			TransactionID: intent.TransactionID,
			AmountKopecks: intent.AmountKopecks,
			Reason:        "payment captured but key grant failed: " + err.Error(),
			CreatedAt:     now,
		})
		s.notifier.NotifyGrantFailed(intent.SubscriberID)
		return nil
	}
	metrics.PanelGrants.WithLabelValues("ok").Inc()

	sub.SubscriptionStatus = models.SubscriptionPremium
	sub.ClientUUID = clientUUID
	sub.ClientLabel = label
	sub.InboundID = s.premiumInboundID
	sub.KeyExpiry = &expiresAt

	if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
		s.raiseAlert(models.OperatorAlert{
			SubscriberID:  intent.SubscriberID,
			TransactionID: intent.TransactionID,
			AmountKopecks: intent.AmountKopecks,
			Reason:        "premium key granted on panel but subscriber record not saved: " + err.Error(),
			CreatedAt:     now,
		})
		return fmt.Errorf("failed to save subscriber: %w", err)
	}
	s.invalidateSubscriber(ctx, intent.SubscriberID)
	metrics.WebhooksProcessed.WithLabelValues("granted").Inc()

	link := vless.Link(clientUUID, s.keyHost, label)
	s.log.Info("premium key granted",
		slog.String("telegram_id", intent.SubscriberID),
		slog.String("transaction_id", intent.TransactionID),
		slog.Time("expires_at", expiresAt),
	)
	s.notifier.NotifyKeyIssued(intent.SubscriberID, link, expiresAt)

	return nil
}
