// Package notifier отправляет подписчикам исходящие уведомления в Telegram:
// выдача ключа, неуспешная оплата. Чат-логика (меню, команды) живёт
// в отдельном сервисе, здесь только доставка сообщений.
package notifier

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
)

// Notifier отправляет сообщения подписчикам через Telegram Bot API.
type Notifier struct {
	log *slog.Logger
	bot *tgbotapi.BotAPI
}

// New создаёт Notifier. Пустой токен допустим: уведомления будут
// только логироваться, без отправки.
func New(log *slog.Logger, botToken string) (*Notifier, error) {
	const op = "notifier.New"

	if botToken == "" {
		log.Warn("telegram bot token not configured, notifications disabled")
		return &Notifier{log: log}, nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Notifier{log: log, bot: bot}, nil
}

// NotifyKeyIssued сообщает подписчику выданный ключ доступа.
func (n *Notifier) NotifyKeyIssued(subscriberID, link string, expiresAt time.Time) {
	text := fmt.Sprintf(
		"Ваш ключ доступа готов!\n\n<code>%s</code>\n\nДействует до %s.",
		link, expiresAt.Format("02.01.2006 15:04"),
	)
	n.send(subscriberID, text)
}

// NotifyPaymentFailed сообщает подписчику о неуспешной оплате.
func (n *Notifier) NotifyPaymentFailed(subscriberID, status string) {
	text := fmt.Sprintf("Оплата не прошла (статус: %s). Попробуйте ещё раз или выберите другой способ оплаты.", status)
	n.send(subscriberID, text)
}

// NotifyGrantFailed сообщает подписчику, что оплата получена, но выдача
// ключа задержалась и оператор уже в курсе.
func (n *Notifier) NotifyGrantFailed(subscriberID string) {
	n.send(subscriberID, "Оплата получена, но выдача ключа временно задержалась. Мы уже разбираемся и выдадим ключ вручную в ближайшее время.")
}

// SendToChat отправляет произвольное сообщение в чат chatID.
// Используется алертами для дублирования в админский чат.
func (n *Notifier) SendToChat(chatID int64, text string) {
	if n.bot == nil {
		n.log.Info("telegram disabled, message skipped", slog.Int64("chat_id", chatID))
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error("failed to send telegram message", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}

func (n *Notifier) send(subscriberID, text string) {
	chatID, err := strconv.ParseInt(subscriberID, 10, 64)
	if err != nil {
		n.log.Error("invalid subscriber id for telegram chat", slog.String("subscriber_id", subscriberID), sl.Err(err))
		return
	}
	n.SendToChat(chatID, text)
}
