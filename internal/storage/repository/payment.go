package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

const paymentColumns = `id, user_uid, purpose, level, payment_method, client_payment_id,
	      transaction_id, amount, currency, discount_id, discount_applied, status,
	      created_at, expiration_time`

func scanPayment(row interface{ Scan(dest ...any) error }) (*models.Payment, error) {
	var p models.Payment
	var txID sql.NullString
	var discountID sql.NullInt64
	if err := row.Scan(&p.ID, &p.UserUID, &p.Purpose, &p.Level, &p.PaymentMethod,
		&p.ClientPaymentID, &txID, &p.Amount, &p.Currency, &discountID,
		&p.DiscountApplied, &p.Status, &p.CreatedAt, &p.ExpirationTime); err != nil {
		return nil, err
	}
	if txID.Valid {
		p.TransactionID = &txID.String
	}
	if discountID.Valid {
		id := int(discountID.Int64)
		p.DiscountID = &id
	}
	return &p, nil
}

// CreatePayment вставляет новое намерение оплаты и возвращает его ID.
func (s *Storage) CreatePayment(ctx context.Context, payment models.Payment) (int, error) {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (user_uid, purpose, level, payment_method, client_payment_id,
			      amount, currency, discount_id, discount_applied, status, created_at, expiration_time)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		payment.UserUID, payment.Purpose, payment.Level, payment.PaymentMethod,
		payment.ClientPaymentID, payment.Amount, payment.Currency, payment.DiscountID,
		payment.DiscountApplied, payment.Status, payment.CreatedAt,
		payment.ExpirationTime).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindPaymentByClientID возвращает платёж по его client_payment_id.
func (s *Storage) FindPaymentByClientID(ctx context.Context, clientPaymentID string) (*models.Payment, error) {
	const op = "storage.FindPaymentByClientID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE client_payment_id = $1`
	payment, err := scanPayment(s.DB.QueryRowContext(ctx, query, clientPaymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payment, nil
}

// ListPendingPayments возвращает все платежи в статусе pending,
// окно оплаты которых ещё не истекло.
func (s *Storage) ListPendingPayments(ctx context.Context, now time.Time) ([]*models.Payment, error) {
	const op = "storage.ListPendingPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE status = $1
			    AND expiration_time > $2
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, models.PaymentPending, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListUserPayments возвращает список платежей пользователя с пагинацией.
func (s *Storage) ListUserPayments(ctx context.Context, userUID string, limit, offset int) ([]*models.Payment, error) {
	const op = "storage.ListUserPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE user_uid = $1
			  ORDER BY id DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, userUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// HasPendingAmount сообщает, занята ли сумма другим ожидающим платежом
// в той же валюте. Используется при подборе уникальной суммы.
//
// Истёкшие, но ещё не обработанные фоновой задачей платежи тоже
// считаются занятыми: они остаются в статусе pending и удерживают
// сумму в частичном уникальном индексе, поэтому вставка поверх них
// всё равно невозможна. Лестница кандидатов обходит такую сумму,
// а после перевода в expired она освобождается.
func (s *Storage) HasPendingAmount(ctx context.Context, amountMinor int64, currency models.Currency) (bool, error) {
	const op = "storage.HasPendingAmount"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
			      SELECT 1 FROM payments
			      WHERE status = $1 AND amount = $2 AND currency = $3
			  )`
	var exists bool
	err := s.DB.QueryRowContext(ctx, query, models.PaymentPending, amountMinor, currency).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ExpirePayment переводит платёж из pending в expired и возвращает
// количество изменённых строк. Ноль строк означает, что платёж уже
// подтверждён или истёк — это не ошибка.
func (s *Storage) ExpirePayment(ctx context.Context, clientPaymentID string) (int, error) {
	const op = "storage.ExpirePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $1
			  WHERE client_payment_id = $2
			    AND status = $3`
	result, err := s.DB.ExecContext(ctx, query, models.PaymentExpired, clientPaymentID, models.PaymentPending)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ExpireDuePayments переводит в expired все платежи, окно оплаты которых
// истекло к моменту now, и возвращает их client_payment_id.
func (s *Storage) ExpireDuePayments(ctx context.Context, now time.Time) ([]string, error) {
	const op = "storage.ExpireDuePayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $1
			  WHERE status = $2
			    AND expiration_time <= $3
			  RETURNING client_payment_id`
	rows, err := s.DB.QueryContext(ctx, query, models.PaymentExpired, models.PaymentPending, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []string
	for rows.Next() {
		var clientPaymentID string
		if err := rows.Scan(&clientPaymentID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, clientPaymentID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ConfirmPaymentTx атомарно подтверждает платёж и выполняет fn в той же
// транзакции. Подтверждение выполняется условным UPDATE: только платёж
// в статусе pending переходит в confirmed, хэш транзакции записывается
// ровно один раз. Если условие не выполнено (платёж уже подтверждён,
// истёк или отсутствует), fn не вызывается и метод возвращает false —
// повторный вызов безопасен.
func (s *Storage) ConfirmPaymentTx(ctx context.Context, clientPaymentID, transactionID string,
	fn func(tx *sql.Tx, payment *models.Payment) error) (bool, error) {
	const op = "storage.ConfirmPaymentTx"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE payments
			  SET status = $1, transaction_id = $2
			  WHERE client_payment_id = $3
			    AND status = $4
			  RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRowContext(ctx, query,
		models.PaymentConfirmed, transactionID, clientPaymentID, models.PaymentPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if err := fn(tx, payment); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
