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

// TrialRequest запрос на выдачу триального ключа.
type TrialRequest struct {
	TelegramID string
	Username   string
	FirstName  string
	LastName   string
}

// IssueTrial выдаёт одноразовый триальный ключ. Повторный запрос после
// использования триала отклоняется с ErrTrialUsed, панель при этом не
// вызывается. При ошибке панели запись подписчика не изменяется.
func (s *Service) IssueTrial(ctx context.Context, req TrialRequest) (*models.AccessKey, error) {
	const op = "provisioning.IssueTrial"

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

	if sub.TrialUsed {
		return nil, ErrTrialUsed
	}

	clientUUID := uuid.NewString()
	label := fmt.Sprintf("trial_%s", req.TelegramID)
	expiresAt := expiry.FromDays(now, s.trialDays)

	identity := panel.ClientIdentity{ClientID: clientUUID, Label: label}
	if err := s.panel.GrantClient(ctx, identity, s.trialInboundID, expiresAt); err != nil {
		metrics.PanelGrants.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.PanelGrants.WithLabelValues("ok").Inc()

	sub.TrialUsed = true
	sub.SubscriptionStatus = models.SubscriptionTrial
	sub.ClientUUID = clientUUID
	sub.ClientLabel = label
	sub.InboundID = s.trialInboundID
	sub.KeyExpiry = &expiresAt

	if err := s.repo.UpsertSubscriber(ctx, sub); err != nil {
		// Ключ на панели уже создан, а запись не сохранилась:
		// автоматикой не чиним, отдаём оператору.
		s.raiseAlert(models.OperatorAlert{
			SubscriberID: req.TelegramID,
			Reason:       "trial key granted on panel but subscriber record not saved: " + err.Error(),
			CreatedAt:    now,
		})
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateSubscriber(ctx, req.TelegramID)
	metrics.TrialsIssued.Inc()

	key := &models.AccessKey{
		ClientUUID: clientUUID,
		Link:       vless.Link(clientUUID, s.keyHost, label),
		ExpiresAt:  expiresAt,
	}

	s.log.Info("trial key issued",
		slog.String("telegram_id", req.TelegramID),
		slog.Time("expires_at", expiresAt),
	)
	s.notifier.NotifyKeyIssued(req.TelegramID, key.Link, expiresAt)

	return key, nil
}

func (s *Service) raiseAlert(alert models.OperatorAlert) {
	metrics.OperatorAlerts.Inc()
	if s.alerts != nil {
		s.alerts.Alert(alert)
	}
}
