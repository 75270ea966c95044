// Package paymentprovider реализует клиент платёжного шлюза Platega:
// создание транзакций, ручная проверка статуса, проверка подписи и
// декодирование вебхуков.
package paymentprovider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
)

// Client клиент Platega.
type Client struct {
	log            *slog.Logger
	baseURL        string
	merchantID     string
	secret         string
	webhookSecret  string
	webhookBaseURL string
	httpClient     *http.Client
}

// New создаёт новый клиент Platega из конфигурации.
func New(log *slog.Logger, cfg config.Platega) *Client {
	if cfg.MerchantID == "" || cfg.Secret == "" {
		log.Warn("platega credentials not configured, payment creation will fail")
	}
	return &Client{
		log:            log,
		baseURL:        cfg.PlategaBaseURL,
		merchantID:     cfg.MerchantID,
		secret:         cfg.Secret,
		webhookSecret:  cfg.WebhookSecret,
		webhookBaseURL: cfg.WebhookBaseURL,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

// CreatePayment создаёт транзакцию на amountRub рублей. externalId
// формируется из идентификатора подписчика и момента создания; повторная
// попытка оплаты получает новый externalId.
func (c *Client) CreatePayment(ctx context.Context, amountRub int, description, subscriberID, returnURL, failedURL string) (*CreatedPayment, error) {
	const op = "paymentprovider.CreatePayment"

	if c.merchantID == "" || c.secret == "" {
		return nil, &GatewayError{Op: op, Msg: "credentials not configured"}
	}

	now := time.Now()
	externalID := fmt.Sprintf("user_%s_%d", subscriberID, now.UnixMilli())
	amountKopecks := int64(amountRub) * 100

	reqBody := CreateTransactionRequest{
		PaymentMethod: "card",
		PaymentDetails: PaymentDetails{
			Amount:   amountKopecks,
			Currency: "RUB",
		},
		Description: description,
		ExternalID:  externalID,
		ReturnURL:   returnURL,
		FailedURL:   failedURL,
		CallbackURL: c.webhookBaseURL + "/webhook/platega",
		Metadata: map[string]string{
			"userId":    subscriberID,
			"timestamp": now.UTC().Format(time.RFC3339),
		},
	}

	var resp createTransactionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/transactions", reqBody, &resp); err != nil {
		return nil, &GatewayError{Op: op, Msg: "create transaction", Err: err}
	}

	transactionID := resp.TransactionID
	if transactionID == "" {
		transactionID = resp.ID
	}
	if resp.PaymentURL == "" || transactionID == "" {
		return nil, &GatewayError{Op: op, Msg: "invalid response from gateway"}
	}

	return &CreatedPayment{
		TransactionID: transactionID,
		ExternalID:    externalID,
		PaymentURL:    resp.PaymentURL,
		AmountKopecks: amountKopecks,
		Currency:      "RUB",
	}, nil
}

// CheckStatus синхронно опрашивает статус транзакции. Используется
// только как ручной fallback к доставке вебхуков.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (string, error) {
	const op = "paymentprovider.CheckStatus"

	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/transactions/"+transactionID, nil, &resp); err != nil {
		return "", &GatewayError{Op: op, Msg: "check status", Err: err}
	}
	if resp.Status == "" {
		return "", &GatewayError{Op: op, Msg: "empty status in response"}
	}
	return resp.Status, nil
}

// VerifySignature проверяет HMAC-SHA256 подпись сырого тела вебхука.
// Сравнение константное по времени. Без настроенного секрета проверка
// пропускается: режим деградированной безопасности, в проде так жить
// нельзя, но совместимость со старыми развёртываниями сохраняем.
func (c *Client) VerifySignature(rawBody []byte, signature string) bool {
	if c.webhookSecret == "" {
		c.log.Warn("webhook secret not configured, skipping signature verification")
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// DecodeWebhook разбирает сырое тело уведомления. Чистая трансформация
// без I/O; отсутствие id транзакции или статуса — MalformedWebhookError.
func (c *Client) DecodeWebhook(rawBody []byte) (*WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, &MalformedWebhookError{Reason: "invalid json: " + err.Error()}
	}

	transactionID := payload.TransactionID
	if transactionID == "" {
		transactionID = payload.ID
	}
	if transactionID == "" {
		return nil, &MalformedWebhookError{Reason: "missing transaction id"}
	}
	if payload.Status == "" {
		return nil, &MalformedWebhookError{Reason: "missing status"}
	}

	timestamp := time.Now()
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			timestamp = parsed
		}
	}

	return &WebhookEvent{
		TransactionID: transactionID,
		ExternalID:    payload.ExternalID,
		Status:        payload.Status,
		AmountKopecks: payload.Amount,
		Currency:      payload.Currency,
		SubscriberID:  payload.Metadata.UserID,
		Timestamp:     timestamp,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("X-MerchantId", c.merchantID)
	req.Header.Set("X-Secret", c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
