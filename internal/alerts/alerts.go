// Package alerts публикует операторские алерты: события, которые нельзя
// чинить автоматикой и которые должен разобрать человек. Алерт уходит
// в durable-очередь RabbitMQ и дублируется в админский чат Telegram.
package alerts

import (
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/models"
)

// AdminMessenger отправляет сообщение в конкретный чат.
type AdminMessenger interface {
	SendToChat(chatID int64, text string)
}

// Alerter публикует операторские алерты.
type Alerter struct {
	log         *slog.Logger
	channel     *amqp.Channel
	queue       string
	messenger   AdminMessenger
	adminChatID int64
}

// New создаёт Alerter поверх уже открытого канала RabbitMQ. Канал может
// быть nil: тогда алерты уходят только в лог и админский чат.
func New(log *slog.Logger, ch *amqp.Channel, queue string, messenger AdminMessenger, adminChatID int64) (*Alerter, error) {
	const op = "alerts.New"

	if ch != nil {
		if err := rabbitmq.DeclareQueue(ch, queue); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		log.Warn("rabbitmq not configured, operator alerts will not be queued")
	}

	return &Alerter{
		log:         log,
		channel:     ch,
		queue:       queue,
		messenger:   messenger,
		adminChatID: adminChatID,
	}, nil
}

// Alert публикует операторский алерт. Ошибки публикации логируются,
// но не возвращаются: алерт вторичен по отношению к рабочему потоку,
// а само событие в любом случае остаётся в логе.
func (a *Alerter) Alert(alert models.OperatorAlert) {
	a.log.Error("operator alert",
		slog.String("subscriber_id", alert.SubscriberID),
		slog.String("transaction_id", alert.TransactionID),
		slog.Int64("amount_kopecks", alert.AmountKopecks),
		slog.String("reason", alert.Reason),
	)

	if a.channel != nil {
		if err := rabbitmq.PublishMessage(a.channel, "", a.queue, alert); err != nil {
			a.log.Error("failed to publish operator alert", sl.Err(err))
		}
	}

	if a.messenger != nil && a.adminChatID != 0 {
		text := fmt.Sprintf(
			"⚠️ Требуется ручная сверка\n\nПодписчик: %s\nТранзакция: %s\nСумма: %.2f ₽\nПричина: %s",
			alert.SubscriberID, alert.TransactionID, float64(alert.AmountKopecks)/100, alert.Reason,
		)
		a.messenger.SendToChat(a.adminChatID, text)
	}
}
