package models

import "time"

// Статусы платежа. Из pending платеж делает ровно один терминальный
// переход; терминальная запись больше не изменяется.
const (
	PaymentPending   = "pending"
	PaymentSuccess   = "success"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
	PaymentRefunded  = "refunded"
)

// IsTerminalPaymentStatus сообщает, является ли статус терминальным.
func IsTerminalPaymentStatus(status string) bool {
	return status != PaymentPending && status != ""
}

// PaymentIntent — намерение оплаты, созданное при выборе тарифа.
// TransactionID назначает шлюз, ExternalID формируем сами из
// идентификатора подписчика и времени создания.
type PaymentIntent struct {
	TransactionID      string
	ExternalID         string
	SubscriberID       string
	AmountKopecks      int64
	Currency           string
	Status             string
	SubscriptionMonths int
	PaymentURL         string
	CreatedAt          time.Time
	CompletedAt        *time.Time // Заполняется только при переходе pending -> success
}

// PaymentRecord — строка append-only истории платежей подписчика.
type PaymentRecord struct {
	SubscriberID  string
	TransactionID string
	AmountKopecks int64
	Status        string
	CreatedAt     time.Time
}

// OperatorAlert — событие, требующее ручной сверки оператором.
// Главный случай: деньги списаны, а выдача ключа на панели не удалась.
type OperatorAlert struct {
	SubscriberID  string    `json:"subscriber_id"`
	TransactionID string    `json:"transaction_id"`
	AmountKopecks int64     `json:"amount_kopecks"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
