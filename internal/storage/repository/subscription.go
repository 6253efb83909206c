package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

// ActiveSubscription возвращает действующую подписку пользователя.
// Активной считается подписка, чей период уже начался и ещё не
// закончился; отложенные периоды (starts_at в будущем) не учитываются.
func (s *Storage) ActiveSubscription(ctx context.Context, userUID string, now time.Time) (*models.Subscription, error) {
	const op = "storage.ActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub, err := activeSubscription(ctx, s.DB, userUID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ActiveSubscriptionTx — то же, что ActiveSubscription, но внутри
// транзакции подтверждения платежа.
func (s *Storage) ActiveSubscriptionTx(ctx context.Context, tx *sql.Tx, userUID string, now time.Time) (*models.Subscription, error) {
	const op = "storage.ActiveSubscriptionTx"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub, err := activeSubscription(ctx, tx, userUID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func activeSubscription(ctx context.Context, q querier, userUID string, now time.Time) (*models.Subscription, error) {
	// При пересечении периодов действует более высокий уровень.
	query := `SELECT id, user_uid, level, starts_at, expiry_date, payment_id
			  FROM subscriptions
			  WHERE user_uid = $1
			    AND starts_at <= $2
			    AND expiry_date > $2
			  ORDER BY CASE level WHEN 'premium' THEN 3 WHEN 'pro' THEN 2 WHEN 'basic' THEN 1 ELSE 0 END DESC,
			           expiry_date DESC
			  LIMIT 1`
	var sub models.Subscription
	var paymentID sql.NullInt64
	err := q.QueryRowContext(ctx, query, userUID, now).Scan(
		&sub.ID, &sub.UserUID, &sub.Level, &sub.StartsAt, &sub.ExpiryDate, &paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if paymentID.Valid {
		id := int(paymentID.Int64)
		sub.PaymentID = &id
	}
	return &sub, nil
}

// CreateSubscriptionTx вставляет новую строку подписки внутри транзакции
// подтверждения платежа и возвращает её ID.
func (s *Storage) CreateSubscriptionTx(ctx context.Context, tx *sql.Tx, sub models.Subscription) (int, error) {
	const op = "storage.CreateSubscriptionTx"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, level, starts_at, expiry_date, payment_id)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int
	err := tx.QueryRowContext(ctx, query,
		sub.UserUID, sub.Level, sub.StartsAt, sub.ExpiryDate, sub.PaymentID).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// ExtendSubscriptionTx сдвигает дату окончания подписки и привязывает
// продливший её платёж. Возвращает количество изменённых строк.
func (s *Storage) ExtendSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, newExpiry time.Time, paymentID int) (int, error) {
	const op = "storage.ExtendSubscriptionTx"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET expiry_date = $1, payment_id = $2
			  WHERE id = $3`
	result, err := tx.ExecContext(ctx, query, newExpiry, paymentID, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// CloseSubscriptionTx досрочно завершает подписку, устанавливая дату
// окончания в closedAt. Используется при повышении уровня: старая строка
// закрывается, новая создаётся с новым уровнем.
func (s *Storage) CloseSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, closedAt time.Time) (int, error) {
	const op = "storage.CloseSubscriptionTx"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET expiry_date = $1
			  WHERE id = $2`
	result, err := tx.ExecContext(ctx, query, closedAt, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ListUserSubscriptions возвращает историю подписок пользователя с пагинацией.
func (s *Storage) ListUserSubscriptions(ctx context.Context, userUID string, limit, offset int) ([]*models.Subscription, error) {
	const op = "storage.ListUserSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, level, starts_at, expiry_date, payment_id
			  FROM subscriptions
			  WHERE user_uid = $1
			  ORDER BY expiry_date DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var paymentID sql.NullInt64
		if err := rows.Scan(&sub.ID, &sub.UserUID, &sub.Level, &sub.StartsAt, &sub.ExpiryDate, &paymentID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if paymentID.Valid {
			id := int(paymentID.Int64)
			sub.PaymentID = &id
		}
		result = append(result, &sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
