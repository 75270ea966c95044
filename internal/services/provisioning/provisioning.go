// Package provisioning реализует основной рабочий процесс выдачи доступа:
// триал, создание платежа, обработка вебхуков шлюза и чтение состояния
// подписчика. Все read-modify-write последовательности по одному
// подписчику сериализуются per-identity мьютексом.
package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/idlock"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/vless"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
)

var (
	// ErrTrialUsed триал уже использован этим подписчиком.
	ErrTrialUsed = errors.New("trial already used")
	// ErrUnknownTier запрошен тариф, которого нет в тарифной сетке.
	ErrUnknownTier = errors.New("unknown subscription tier")
	// ErrPaymentNotFound платёж с таким transactionId не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSubscriberNotFound подписчик не найден.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// SubscriberRepository хранилище подписчиков и платежей.
type SubscriberRepository interface {
	FindSubscriber(ctx context.Context, telegramID string) (*models.Subscriber, bool, error)
	UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error
	AppendPaymentRecord(ctx context.Context, rec models.PaymentRecord) error
	CreatePayment(ctx context.Context, intent *models.PaymentIntent) error
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (*models.PaymentIntent, bool, error)
	MarkPaymentStatus(ctx context.Context, transactionID, status string, completedAt *time.Time) (int, error)
	ListPayments(ctx context.Context, subscriberID string, limit, offset int) ([]*models.PaymentIntent, error)
}

// PanelClient клиент панели 3x-ui.
type PanelClient interface {
	GrantClient(ctx context.Context, identity panel.ClientIdentity, inboundID int, expiry time.Time) error
	UpdateExpiry(ctx context.Context, clientID, label string, inboundID int, newExpiry time.Time) error
	ListInbounds(ctx context.Context) []panel.Inbound
}

// PaymentGateway клиент платёжного шлюза.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, amountRub int, description, subscriberID, returnURL, failedURL string) (*paymentprovider.CreatedPayment, error)
	CheckStatus(ctx context.Context, transactionID string) (string, error)
}

// Notifier исходящие уведомления подписчику.
type Notifier interface {
	NotifyKeyIssued(subscriberID, link string, expiresAt time.Time)
	NotifyPaymentFailed(subscriberID, status string)
	NotifyGrantFailed(subscriberID string)
}

// AlertSink приём операторских алертов.
type AlertSink interface {
	Alert(alert models.OperatorAlert)
}

// Cache кэш на пути чтения состояния подписчика. Может отсутствовать.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Service рабочий процесс выдачи доступа.
type Service struct {
	log      *slog.Logger
	repo     SubscriberRepository
	panel    PanelClient
	gateway  PaymentGateway
	notifier Notifier
	alerts   AlertSink
	cache    Cache
	locks    *idlock.KeyedMutex

	trialInboundID   int
	premiumInboundID int
	trialDays        int
	keyHost          string
	tiers            []config.Tier
}

// New создаёт сервис. cache и alerts могут быть nil.
func New(log *slog.Logger, repo SubscriberRepository, panelClient PanelClient,
	gateway PaymentGateway, notifier Notifier, alerts AlertSink, cache Cache,
	cfg *config.Config) *Service {
	return &Service{
		log:              log,
		repo:             repo,
		panel:            panelClient,
		gateway:          gateway,
		notifier:         notifier,
		alerts:           alerts,
		cache:            cache,
		locks:            idlock.New(),
		trialInboundID:   cfg.Panel.TrialInboundID,
		premiumInboundID: cfg.Panel.PremiumInboundID,
		trialDays:        cfg.Panel.TrialDays,
		keyHost:          vless.Host(cfg.Panel.PanelURL, "localhost"),
		tiers:            cfg.Tiers,
	}
}

func (s *Service) priceFor(months int) (int, bool) {
	for _, t := range s.tiers {
		if t.Months == months {
			return t.PriceRub, true
		}
	}
	return 0, false
}

// Tiers возвращает тарифную сетку для витрины.
func (s *Service) Tiers() []config.Tier {
	return s.tiers
}

func (s *Service) invalidateSubscriber(ctx context.Context, telegramID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, subscriberCacheKey(telegramID)); err != nil {
		s.log.Warn("failed to invalidate subscriber cache", slog.String("telegram_id", telegramID))
	}
}

func subscriberCacheKey(telegramID string) string {
	return "subscriber:" + telegramID
}
