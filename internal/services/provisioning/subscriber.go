package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/vless"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
)

const subscriberCacheTTL = 5 * time.Minute

// SubscriberView состояние подписчика для отдачи наружу.
type SubscriberView struct {
	TelegramID         string     `json:"telegram_id"`
	Username           string     `json:"username,omitempty"`
	SubscriptionStatus string     `json:"subscription_status"`
	TrialUsed          bool       `json:"trial_used"`
	HasActiveKey       bool       `json:"has_active_key"`
	KeyLink            string     `json:"key_link,omitempty"`
	KeyExpiry          *time.Time `json:"key_expiry,omitempty"`
	LastPaymentID      string     `json:"last_payment_id,omitempty"`
	LastPaymentStatus  string     `json:"last_payment_status,omitempty"`
}

// GetSubscriber возвращает состояние подписчика. Путь чтения кэшируется;
// все мутации инвалидируют кэш, поэтому устаревание ограничено TTL
// только при внешних изменениях хранилища.
func (s *Service) GetSubscriber(ctx context.Context, telegramID string) (*SubscriberView, error) {
	const op = "provisioning.GetSubscriber"

	if s.cache != nil {
		var cached SubscriberView
		found, err := s.cache.Get(ctx, subscriberCacheKey(telegramID), &cached)
		if err != nil {
			s.log.Warn("subscriber cache read failed", slog.String("telegram_id", telegramID))
		} else if found {
			return &cached, nil
		}
	}

	sub, found, err := s.repo.FindSubscriber(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, ErrSubscriberNotFound
	}

	view := s.buildView(sub)
	if s.cache != nil {
		if err := s.cache.Set(ctx, subscriberCacheKey(telegramID), view, subscriberCacheTTL); err != nil {
			s.log.Warn("subscriber cache write failed", slog.String("telegram_id", telegramID))
		}
	}
	return view, nil
}

func (s *Service) buildView(sub *models.Subscriber) *SubscriberView {
	view := &SubscriberView{
		TelegramID:         sub.TelegramID,
		Username:           sub.Username,
		SubscriptionStatus: sub.SubscriptionStatus,
		TrialUsed:          sub.TrialUsed,
		HasActiveKey:       sub.HasActiveKey(time.Now()),
		KeyExpiry:          sub.KeyExpiry,
		LastPaymentID:      sub.LastPaymentID,
		LastPaymentStatus:  sub.LastPaymentStatus,
	}
	if view.HasActiveKey {
		view.KeyLink = vless.Link(sub.ClientUUID, s.keyHost, sub.ClientLabel)
	}
	return view
}

// ListInbounds возвращает список inbound'ов панели для админской
// диагностики. Пустой список при недоступной панели.
func (s *Service) ListInbounds(ctx context.Context) []panel.Inbound {
	return s.panel.ListInbounds(ctx)
}
