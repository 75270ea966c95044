package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/portal-vpn/internal/models"
)

// CreatePayment вставляет новое намерение оплаты в статусе pending.
func (s *Storage) CreatePayment(ctx context.Context, intent *models.PaymentIntent) error {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (transaction_id, external_id, subscriber_id, amount_kopecks,
				currency, status, subscription_months, payment_url, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`
	_, err := s.DB.ExecContext(ctx, query,
		intent.TransactionID, intent.ExternalID, intent.SubscriberID, intent.AmountKopecks,
		intent.Currency, intent.Status, intent.SubscriptionMonths, intent.PaymentURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindPaymentByTransactionID возвращает намерение оплаты по id транзакции шлюза.
func (s *Storage) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*models.PaymentIntent, bool, error) {
	const op = "storage.FindPaymentByTransactionID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT transaction_id, external_id, subscriber_id, amount_kopecks, currency,
				status, subscription_months, payment_url, created_at, completed_at
			  FROM payments WHERE transaction_id = $1`
	row := s.DB.QueryRowContext(ctx, query, transactionID)

	var intent models.PaymentIntent
	var completedAt sql.NullTime
	err := row.Scan(&intent.TransactionID, &intent.ExternalID, &intent.SubscriberID,
		&intent.AmountKopecks, &intent.Currency, &intent.Status, &intent.SubscriptionMonths,
		&intent.PaymentURL, &intent.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if completedAt.Valid {
		intent.CompletedAt = &completedAt.Time
	}
	return &intent, true, nil
}

// MarkPaymentStatus переводит платеж из pending в status и возвращает
// количество изменённых строк. Условие status = 'pending' делает переход
// атомарным: повторная доставка вебхука получает 0 строк и может быть
// подтверждена без побочных эффектов.
func (s *Storage) MarkPaymentStatus(ctx context.Context, transactionID, status string, completedAt *time.Time) (int, error) {
	const op = "storage.MarkPaymentStatus"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2, completed_at = COALESCE($3, completed_at)
			  WHERE transaction_id = $1 AND status = 'pending'`
	result, err := s.DB.ExecContext(ctx, query, transactionID, status, completedAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ListPayments возвращает платежи подписчика с пагинацией, новые первыми.
func (s *Storage) ListPayments(ctx context.Context, subscriberID string, limit, offset int) ([]*models.PaymentIntent, error) {
	const op = "storage.ListPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT transaction_id, external_id, subscriber_id, amount_kopecks, currency,
				status, subscription_months, payment_url, created_at, completed_at
			  FROM payments
			  WHERE subscriber_id = $1
			  ORDER BY created_at DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, subscriberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.PaymentIntent
	for rows.Next() {
		var intent models.PaymentIntent
		var completedAt sql.NullTime
		if err := rows.Scan(&intent.TransactionID, &intent.ExternalID, &intent.SubscriberID,
			&intent.AmountKopecks, &intent.Currency, &intent.Status, &intent.SubscriptionMonths,
			&intent.PaymentURL, &intent.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if completedAt.Valid {
			intent.CompletedAt = &completedAt.Time
		}
		result = append(result, &intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
