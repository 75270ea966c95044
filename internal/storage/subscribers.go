package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/portal-vpn/internal/models"
)

// FindSubscriber возвращает запись подписчика по telegram id.
// Второй результат false означает, что записи нет.
func (s *Storage) FindSubscriber(ctx context.Context, telegramID string) (*models.Subscriber, bool, error) {
	const op = "storage.FindSubscriber"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT telegram_id, username, first_name, last_name, subscription_status,
				trial_used, client_uuid, client_label, inbound_id, key_expiry,
				last_payment_id, last_payment_status, created_at, updated_at
			  FROM subscribers WHERE telegram_id = $1`
	row := s.DB.QueryRowContext(ctx, query, telegramID)

	var sub models.Subscriber
	var keyExpiry sql.NullTime
	err := row.Scan(&sub.TelegramID, &sub.Username, &sub.FirstName, &sub.LastName,
		&sub.SubscriptionStatus, &sub.TrialUsed, &sub.ClientUUID, &sub.ClientLabel,
		&sub.InboundID, &keyExpiry, &sub.LastPaymentID, &sub.LastPaymentStatus,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if keyExpiry.Valid {
		sub.KeyExpiry = &keyExpiry.Time
	}
	return &sub, true, nil
}

// UpsertSubscriber сохраняет запись подписчика целиком. Существующая
// запись перезаписывается полностью, кроме created_at.
func (s *Storage) UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error {
	const op = "storage.UpsertSubscriber"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscribers (telegram_id, username, first_name, last_name,
				subscription_status, trial_used, client_uuid, client_label, inbound_id,
				key_expiry, last_payment_id, last_payment_status, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			  ON CONFLICT (telegram_id) DO UPDATE SET
				username = EXCLUDED.username,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				subscription_status = EXCLUDED.subscription_status,
				trial_used = EXCLUDED.trial_used,
				client_uuid = EXCLUDED.client_uuid,
				client_label = EXCLUDED.client_label,
				inbound_id = EXCLUDED.inbound_id,
				key_expiry = EXCLUDED.key_expiry,
				last_payment_id = EXCLUDED.last_payment_id,
				last_payment_status = EXCLUDED.last_payment_status,
				updated_at = NOW()`
	_, err := s.DB.ExecContext(ctx, query,
		sub.TelegramID, sub.Username, sub.FirstName, sub.LastName,
		sub.SubscriptionStatus, sub.TrialUsed, sub.ClientUUID, sub.ClientLabel,
		sub.InboundID, sub.KeyExpiry, sub.LastPaymentID, sub.LastPaymentStatus)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AppendPaymentRecord добавляет строку в append-only историю платежей.
func (s *Storage) AppendPaymentRecord(ctx context.Context, rec models.PaymentRecord) error {
	const op = "storage.AppendPaymentRecord"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payment_history (subscriber_id, transaction_id, amount_kopecks, status, created_at)
			  VALUES ($1, $2, $3, $4, NOW())`
	_, err := s.DB.ExecContext(ctx, query,
		rec.SubscriberID, rec.TransactionID, rec.AmountKopecks, rec.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
