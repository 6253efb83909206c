// Package subscription содержит бизнес-логику жизненного цикла подписки:
// продление, повышение и понижение уровня при подтверждении платежа.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// Repository определяет методы для работы с подписками в хранилище.
type Repository interface {
	// ActiveSubscription возвращает действующую подписку пользователя.
	ActiveSubscription(ctx context.Context, userUID string, now time.Time) (*models.Subscription, error)
	// ActiveSubscriptionTx — то же внутри транзакции подтверждения платежа.
	ActiveSubscriptionTx(ctx context.Context, tx *sql.Tx, userUID string, now time.Time) (*models.Subscription, error)
	// CreateSubscriptionTx вставляет новую строку подписки.
	CreateSubscriptionTx(ctx context.Context, tx *sql.Tx, sub models.Subscription) (int, error)
	// ExtendSubscriptionTx сдвигает дату окончания подписки.
	ExtendSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, newExpiry time.Time, paymentID int) (int, error)
	// CloseSubscriptionTx досрочно завершает подписку.
	CloseSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, closedAt time.Time) (int, error)
	// ListUserSubscriptions возвращает историю подписок пользователя.
	ListUserSubscriptions(ctx context.Context, userUID string, limit, offset int) ([]*models.Subscription, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует бизнес-логику работы с подписками, включая кеширование.
type Service struct {
	repo     Repository
	cache    Cache
	duration time.Duration
	log      *slog.Logger
}

// New создает новый экземпляр Service. durationDays — длительность
// оплаченного периода в днях.
func New(repo Repository, cache Cache, durationDays int, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		duration: time.Duration(durationDays) * 24 * time.Hour,
		log:      log,
	}
}

// ActiveCacheKey возвращает ключ кеша активной подписки пользователя.
func ActiveCacheKey(userUID string) string {
	return fmt.Sprintf("subscription:active:%s", userUID)
}

// ReconcileTx применяет подтверждённый платёж к подписке пользователя
// внутри транзакции подтверждения. Платежи с назначением, отличным от
// подписки, состояние подписки не меняют.
//
// Правила:
//   - нет активной подписки — создаётся новая от момента подтверждения;
//   - тот же уровень — дата окончания сдвигается от текущей даты окончания;
//   - уровень выше — старая строка закрывается сейчас, новая создаётся
//     с новым уровнем на полный период;
//   - уровень ниже — новая строка ставится в очередь после текущей.
func (s *Service) ReconcileTx(ctx context.Context, tx *sql.Tx, payment *models.Payment) error {
	const op = "subscription.ReconcileTx"

	if payment.Purpose != models.PurposeSubscription {
		return nil
	}
	if !payment.Level.Valid() {
		return fmt.Errorf("%s: unknown subscription level %q", op, payment.Level)
	}

	now := time.Now().UTC()
	active, err := s.repo.ActiveSubscriptionTx(ctx, tx, payment.UserUID, now)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case active == nil:
		_, err = s.repo.CreateSubscriptionTx(ctx, tx, models.Subscription{
			UserUID:    payment.UserUID,
			Level:      payment.Level,
			StartsAt:   now,
			ExpiryDate: now.Add(s.duration),
			PaymentID:  &payment.ID,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("created subscription",
			slog.String("user_uid", payment.UserUID), slog.String("level", string(payment.Level)))

	case active.Level == payment.Level:
		_, err = s.repo.ExtendSubscriptionTx(ctx, tx, active.ID, active.ExpiryDate.Add(s.duration), payment.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("extended subscription",
			slog.String("user_uid", payment.UserUID), slog.Int("subscription_id", active.ID))

	case payment.Level.Rank() > active.Level.Rank():
		if _, err = s.repo.CloseSubscriptionTx(ctx, tx, active.ID, now); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		_, err = s.repo.CreateSubscriptionTx(ctx, tx, models.Subscription{
			UserUID:    payment.UserUID,
			Level:      payment.Level,
			StartsAt:   now,
			ExpiryDate: now.Add(s.duration),
			PaymentID:  &payment.ID,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("upgraded subscription",
			slog.String("user_uid", payment.UserUID),
			slog.String("from", string(active.Level)), slog.String("to", string(payment.Level)))

	default:
		// Платёж на понижение подтвердился уже после изменения состояния
		// подписки: новый период начинается после окончания текущего и
		// до этого момента не считается активным.
		_, err = s.repo.CreateSubscriptionTx(ctx, tx, models.Subscription{
			UserUID:    payment.UserUID,
			Level:      payment.Level,
			StartsAt:   active.ExpiryDate,
			ExpiryDate: active.ExpiryDate.Add(s.duration),
			PaymentID:  &payment.ID,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.log.Warn("queued lower level subscription after active one",
			slog.String("user_uid", payment.UserUID),
			slog.String("active", string(active.Level)), slog.String("paid", string(payment.Level)))
	}

	if err := s.cache.Invalidate(ActiveCacheKey(payment.UserUID)); err != nil {
		s.log.Warn("failed to invalidate subscription cache",
			slog.String("user_uid", payment.UserUID), slog.Any("err", err))
	}
	return nil
}

// Status возвращает состояние подписки пользователя, используя кеш
// или репозиторий.
func (s *Service) Status(ctx context.Context, userUID string) (*models.SubscriptionStatusInfo, error) {
	var cached models.SubscriptionStatusInfo
	cacheKey := ActiveCacheKey(userUID)
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read subscription cache", slog.String("key", cacheKey), slog.Any("err", err))
	}
	if found {
		return &cached, nil
	}

	now := time.Now().UTC()
	active, err := s.repo.ActiveSubscription(ctx, userUID, now)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return &models.SubscriptionStatusInfo{Active: false}, nil
		}
		return nil, err
	}

	info := &models.SubscriptionStatusInfo{
		Active:     true,
		Level:      active.Level,
		ExpiryDate: &active.ExpiryDate,
	}
	if err := s.cache.Set(cacheKey, info, 5*time.Minute); err != nil {
		s.log.Warn("failed to cache subscription status", slog.String("key", cacheKey), slog.Any("err", err))
	}
	return info, nil
}

// ActiveSubscription возвращает действующую подписку пользователя без кеша.
// Используется при расчёте цены повышения уровня.
func (s *Service) ActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	return s.repo.ActiveSubscription(ctx, userUID, time.Now().UTC())
}

// List возвращает историю подписок пользователя с пагинацией.
func (s *Service) List(ctx context.Context, userUID string, limit, offset int) ([]*models.Subscription, error) {
	return s.repo.ListUserSubscriptions(ctx, userUID, limit, offset)
}
