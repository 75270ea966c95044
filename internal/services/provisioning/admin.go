package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/expiry"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/vless"
	"github.com/magabrotheeeer/portal-vpn/internal/metrics"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
)

// ReissueKey — ручной операторский инструмент сверки. Действующий ключ
// продлевается на days через updateClient; подписчику без действующего
// ключа (типично после сбоя выдачи при захваченном платеже) выдаётся
// новый премиум-ключ на days дней.
func (s *Service) ReissueKey(ctx context.Context, telegramID string, days int) (*models.AccessKey, error) {
	const op = "provisioning.ReissueKey"

	unlock := s.locks.Lock(telegramID)
	defer unlock()

	sub, found, err := s.repo.FindSubscriber(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, ErrSubscriberNotFound
	}

	now := time.Now()

	if sub.HasActiveKey(now) {
		newExpiry := expiry.FromDays(*sub.KeyExpiry, days)
		// Запись клиента отправляется целиком: updateClient на панели
		// перезаписывает клиента, а не сливает поля.
		if err := s.panel.UpdateExpiry(ctx, sub.ClientUUID, sub.ClientLabel, sub.InboundID, newExpiry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sub.KeyExpiry = &newExpiry
		if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.invalidateSubscriber(ctx, telegramID)

		key := &models.AccessKey{
			ClientUUID: sub.ClientUUID,
			Link:       vless.Link(sub.ClientUUID, s.keyHost, sub.ClientLabel),
			ExpiresAt:  newExpiry,
		}
		s.log.Info("key extended by operator",
			slog.String("telegram_id", telegramID),
			slog.Time("expires_at", newExpiry),
		)
		return key, nil
	}

	clientUUID := uuid.NewString()
	label := fmt.Sprintf("premium_%s_%d", telegramID, now.UnixMilli())
	expiresAt := expiry.FromDays(now, days)

	identity := panel.ClientIdentity{ClientID: clientUUID, Label: label}
	if err := s.panel.GrantClient(ctx, identity, s.premiumInboundID, expiresAt); err != nil {
		metrics.PanelGrants.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.PanelGrants.WithLabelValues("ok").Inc()

	sub.SubscriptionStatus = models.SubscriptionPremium
	sub.ClientUUID = clientUUID
	sub.ClientLabel = label
	sub.InboundID = s.premiumInboundID
	sub.KeyExpiry = &expiresAt
	if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateSubscriber(ctx, telegramID)

	key := &models.AccessKey{
		ClientUUID: clientUUID,
		Link:       vless.Link(clientUUID, s.keyHost, label),
		ExpiresAt:  expiresAt,
	}
	s.log.Info("key reissued by operator",
		slog.String("telegram_id", telegramID),
		slog.Time("expires_at", expiresAt),
	)
	s.notifier.NotifyKeyIssued(telegramID, key.Link, expiresAt)
	return key, nil
}
