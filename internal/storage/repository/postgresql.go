// Package repository реализует хранилище данных на основе PostgreSQL
// для управления платежами, подписками, скидками и пользователями.
// Предоставляет методы создания, чтения и обновления записей, а также
// транзакционное подтверждение платежей.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки-сигналы слоя хранилища. Сервисы сравнивают их через errors.Is,
// чтобы отличать «не найдено» от сбоя базы данных.
var (
	// ErrPaymentNotFound возвращается, когда платёж с указанным
	// client_payment_id отсутствует.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSubscriptionNotFound возвращается при отсутствии активной подписки.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDiscountNotFound возвращается, когда скидка не найдена,
	// неактивна или её срок действия истёк.
	ErrDiscountNotFound = errors.New("discount not found")
	// ErrUserNotFound возвращается при отсутствии пользователя.
	ErrUserNotFound = errors.New("user not found")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с платежами, подписками и скидками.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'payments'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table payments missing or query error: %w", err)
	}
	return nil
}
