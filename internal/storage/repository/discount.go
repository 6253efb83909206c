package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

// FindActiveDiscountByCode возвращает активную скидку по промокоду.
// Скидка с истёкшим valid_until или снятая с публикации считается
// отсутствующей.
func (s *Storage) FindActiveDiscountByCode(ctx context.Context, code string, now time.Time) (*models.Discount, error) {
	const op = "storage.FindActiveDiscountByCode"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, code, percentage, valid_until, is_active, created_at
			  FROM discounts
			  WHERE code = $1
			    AND is_active = true
			    AND (valid_until IS NULL OR valid_until > $2)`
	var d models.Discount
	var validUntil sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, code, now).Scan(
		&d.ID, &d.Code, &d.Percentage, &validUntil, &d.IsActive, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrDiscountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if validUntil.Valid {
		d.ValidUntil = &validUntil.Time
	}
	return &d, nil
}

// CreateDiscount вставляет новую скидку и возвращает её ID.
func (s *Storage) CreateDiscount(ctx context.Context, discount models.Discount) (int, error) {
	const op = "storage.CreateDiscount"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO discounts (code, percentage, valid_until, is_active, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		discount.Code, discount.Percentage, discount.ValidUntil, discount.IsActive,
		discount.CreatedAt).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// UpdateDiscount обновляет скидку по её ID и возвращает количество
// изменённых строк.
func (s *Storage) UpdateDiscount(ctx context.Context, discount models.Discount) (int, error) {
	const op = "storage.UpdateDiscount"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE discounts
			  SET code = $1, percentage = $2, valid_until = $3, is_active = $4
			  WHERE id = $5`
	result, err := s.DB.ExecContext(ctx, query,
		discount.Code, discount.Percentage, discount.ValidUntil, discount.IsActive, discount.ID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// RemoveDiscount удаляет скидку по ID и возвращает количество удалённых строк.
func (s *Storage) RemoveDiscount(ctx context.Context, id int) (int, error) {
	const op = "storage.RemoveDiscount"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM discounts WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ListDiscounts возвращает все скидки со счётчиком использований.
// Использованием считается платёж любой стадии, созданный с этой скидкой.
func (s *Storage) ListDiscounts(ctx context.Context, limit, offset int) ([]*models.DiscountInfo, error) {
	const op = "storage.ListDiscounts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT d.id, d.code, d.percentage, d.valid_until, d.is_active, d.created_at,
			      COUNT(p.id) AS usage_count
			  FROM discounts d
			  LEFT JOIN payments p ON p.discount_id = d.id
			  GROUP BY d.id
			  ORDER BY d.id
			  LIMIT $1 OFFSET $2`
	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.DiscountInfo
	for rows.Next() {
		var info models.DiscountInfo
		var validUntil sql.NullTime
		if err := rows.Scan(&info.ID, &info.Code, &info.Percentage, &validUntil,
			&info.IsActive, &info.CreatedAt, &info.UsageCount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if validUntil.Valid {
			info.ValidUntil = &validUntil.Time
		}
		result = append(result, &info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
