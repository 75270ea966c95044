package paymentprovider

import (
	"fmt"
	"time"
)

// CreateTransactionRequest тело запроса создания транзакции Platega.
// Сумма указывается в копейках.
type CreateTransactionRequest struct {
	PaymentMethod  string            `json:"paymentMethod"`
	PaymentDetails PaymentDetails    `json:"paymentDetails"`
	Description    string            `json:"description"`
	ExternalID     string            `json:"externalId"`
	ReturnURL      string            `json:"returnUrl"`
	FailedURL      string            `json:"failedUrl"`
	CallbackURL    string            `json:"callbackUrl"`
	Metadata       map[string]string `json:"metadata"`
}

// PaymentDetails сумма и валюта транзакции.
type PaymentDetails struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createTransactionResponse struct {
	PaymentURL    string `json:"paymentUrl"`
	TransactionID string `json:"transactionId"`
	ID            string `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// CreatedPayment результат успешного создания транзакции.
type CreatedPayment struct {
	TransactionID string
	ExternalID    string
	PaymentURL    string
	AmountKopecks int64
	Currency      string
}

// WebhookEvent разобранное уведомление шлюза. Чистая структура данных,
// без привязки к транспорту.
type WebhookEvent struct {
	TransactionID string
	ExternalID    string
	Status        string
	AmountKopecks int64
	Currency      string
	SubscriberID  string
	Timestamp     time.Time
}

// webhookPayload сырой формат уведомления. Шлюз присылает id транзакции
// то в transactionId, то в id.
type webhookPayload struct {
	TransactionID string `json:"transactionId"`
	ID            string `json:"id"`
	ExternalID    string `json:"externalId"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Metadata      struct {
		UserID string `json:"userId"`
	} `json:"metadata"`
	Timestamp string `json:"timestamp"`
}

// GatewayError ошибка взаимодействия с платёжным шлюзом.
type GatewayError struct {
	Op  string
	Msg string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// MalformedWebhookError уведомление без обязательных полей.
type MalformedWebhookError struct {
	Reason string
}

func (e *MalformedWebhookError) Error() string {
	return "malformed webhook: " + e.Reason
}
