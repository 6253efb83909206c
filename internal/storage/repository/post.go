package repository

import (
	"context"
	"fmt"
	"time"
)

// ArchiveOldPosts переводит посты типа basic, опубликованные раньше
// cutoff, в тип archive и возвращает количество затронутых строк.
func (s *Storage) ArchiveOldPosts(ctx context.Context, cutoff time.Time) (int, error) {
	const op = "storage.ArchiveOldPosts"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE posts
			  SET content_type = 'archive'
			  WHERE content_type = 'basic'
			    AND published_at < $1`
	result, err := s.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}
