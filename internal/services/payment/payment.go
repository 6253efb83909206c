// Package payment содержит бизнес-логику платежей: выставление счёта
// с уникальной суммой, сверку с переводами в блокчейне и подтверждение.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/chain"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/sl"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/lib/unique"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/metrics"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// Ошибки бизнес-правил покупки. Обработчики переводят их в коды ответов.
var (
	// ErrInvalidLevel возвращается для неизвестного уровня подписки.
	ErrInvalidLevel = errors.New("invalid subscription level")
	// ErrUnsupportedCurrency возвращается для неподдерживаемой валюты.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrDowngradeNotAllowed возвращается при попытке купить уровень ниже текущего.
	ErrDowngradeNotAllowed = errors.New("downgrade is not allowed while subscription is active")
	// ErrUnderage возвращается, когда пользователю меньше 18 лет.
	ErrUnderage = errors.New("user is underage")
)

// Repository определяет методы хранилища, нужные платёжному сервису.
type Repository interface {
	CreatePayment(ctx context.Context, payment models.Payment) (int, error)
	FindPaymentByClientID(ctx context.Context, clientPaymentID string) (*models.Payment, error)
	ListPendingPayments(ctx context.Context, now time.Time) ([]*models.Payment, error)
	ListUserPayments(ctx context.Context, userUID string, limit, offset int) ([]*models.Payment, error)
	HasPendingAmount(ctx context.Context, amountMinor int64, currency models.Currency) (bool, error)
	ExpirePayment(ctx context.Context, clientPaymentID string) (int, error)
	ExpireDuePayments(ctx context.Context, now time.Time) ([]string, error)
	ConfirmPaymentTx(ctx context.Context, clientPaymentID, transactionID string,
		fn func(tx *sql.Tx, payment *models.Payment) error) (bool, error)
	FindActiveDiscountByCode(ctx context.Context, code string, now time.Time) (*models.Discount, error)
	ActiveSubscription(ctx context.Context, userUID string, now time.Time) (*models.Subscription, error)
	GetUser(ctx context.Context, userUID string) (*models.User, error)
}

// Reconciler применяет подтверждённый платёж к подписке внутри
// транзакции подтверждения.
type Reconciler interface {
	ReconcileTx(ctx context.Context, tx *sql.Tx, payment *models.Payment) error
}

// Cache описывает кеширование и троттлинг проверок по требованию.
type Cache interface {
	Invalidate(key string) error
	Throttle(key string, ttl time.Duration) (bool, error)
}

// Publisher публикует события жизненного цикла платежей.
type Publisher interface {
	Publish(exchange, routingKey string, message any) error
}

// Event описывает событие жизненного цикла платежа для брокера сообщений.
type Event struct {
	ClientPaymentID string               `json:"client_payment_id"`
	UserUID         string               `json:"user_uid"`
	TransactionID   string               `json:"transaction_id,omitempty"`
	Amount          int64                `json:"amount"`
	Currency        models.Currency      `json:"currency"`
	Status          models.PaymentStatus `json:"status"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

const minAge = 18

// Service реализует бизнес-логику платежей.
type Service struct {
	repo       Repository
	reconciler Reconciler
	cache      Cache
	publisher  Publisher
	clients    map[models.Currency]chain.Client
	cfg        config.SubscriptionSettings
	log        *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, reconciler Reconciler, cache Cache, publisher Publisher,
	clients map[models.Currency]chain.Client, cfg config.SubscriptionSettings, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		reconciler: reconciler,
		cache:      cache,
		publisher:  publisher,
		clients:    clients,
		cfg:        cfg,
		log:        log,
	}
}

// CreatePurchase выставляет счёт на покупку подписки: проверяет правила,
// подбирает уникальную сумму и создаёт намерение оплаты.
func (s *Service) CreatePurchase(ctx context.Context, userUID string, req models.DummyPurchase) (*models.PurchaseInvoice, error) {
	const op = "payment.CreatePurchase"

	level := models.SubscriptionLevel(req.Level)
	price, ok := s.cfg.Prices[req.Level]
	if !level.Valid() || !ok {
		return nil, ErrInvalidLevel
	}
	currency := models.Currency(req.Currency)
	if !currency.Valid() {
		return nil, ErrUnsupportedCurrency
	}
	client, ok := s.clients[currency]
	if !ok {
		return nil, ErrUnsupportedCurrency
	}

	now := time.Now().UTC()
	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.Age(now) < minAge {
		return nil, ErrUnderage
	}

	base := decimal.NewFromFloat(price)
	active, err := s.repo.ActiveSubscription(ctx, userUID, now)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if active != nil && active.Level != level {
		if level.Rank() < active.Level.Rank() {
			return nil, ErrDowngradeNotAllowed
		}
		// Повышение уровня оплачивается разницей тарифов.
		activePrice, ok := s.cfg.Prices[string(active.Level)]
		if !ok {
			return nil, fmt.Errorf("%s: no price for active level %q", op, active.Level)
		}
		base = base.Sub(decimal.NewFromFloat(activePrice))
	}

	var discount *models.Discount
	var discountApplied int64
	var discountInfo string
	if req.PromoCode != "" {
		discount, err = s.repo.FindActiveDiscountByCode(ctx, req.PromoCode, now)
		if err != nil {
			if errors.Is(err, repository.ErrDiscountNotFound) {
				return nil, repository.ErrDiscountNotFound
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		discounted := base.Mul(decimal.NewFromInt(int64(100 - discount.Percentage))).
			Div(decimal.NewFromInt(100)).Round(2)
		discountApplied = base.Sub(discounted).Mul(decimal.NewFromInt(100)).IntPart()
		base = discounted
		discountInfo = fmt.Sprintf("%s (-%d%%)", discount.Code, discount.Percentage)
	}

	amount, amountMinor, err := unique.Amount(ctx, base, func(ctx context.Context, candidate int64) (bool, error) {
		return s.repo.HasPendingAmount(ctx, candidate, currency)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment := models.Payment{
		UserUID:         userUID,
		Purpose:         models.PurposeSubscription,
		Level:           level,
		PaymentMethod:   "crypto",
		ClientPaymentID: uuid.New().String(),
		Amount:          amountMinor,
		Currency:        currency,
		DiscountApplied: discountApplied,
		Status:          models.PaymentPending,
		CreatedAt:       now,
		ExpirationTime:  now.Add(s.cfg.PaymentExpiry),
	}
	if discount != nil {
		payment.DiscountID = &discount.ID
	}
	if _, err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.PaymentsCreatedTotal.WithLabelValues(string(currency), string(payment.Purpose)).Inc()
	s.log.Info("created payment intent",
		slog.String("client_payment_id", payment.ClientPaymentID),
		slog.String("currency", string(currency)),
		slog.Int64("amount", amountMinor))

	return &models.PurchaseInvoice{
		ClientPaymentID: payment.ClientPaymentID,
		Address:         client.WalletAddress(),
		Amount:          amount.StringFixed(2),
		Currency:        currency,
		ExpirationTime:  payment.ExpirationTime,
		DiscountInfo:    discountInfo,
	}, nil
}

// Check возвращает состояние платежа, по пути выполняя ленивое истечение
// и, не чаще чем раз в CheckThrottle, синхронную сверку с блокчейном.
// Ответ формируется всегда, даже если провайдер блокчейна недоступен.
func (s *Service) Check(ctx context.Context, clientPaymentID string) (*models.PaymentStatusInfo, error) {
	const op = "payment.Check"

	payment, err := s.repo.FindPaymentByClientID(ctx, clientPaymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if payment.Status == models.PaymentPending {
		if payment.Expired(now) {
			if err := s.expire(ctx, payment); err != nil {
				s.log.Error("failed to expire payment", sl.Op(op), sl.Err(err))
			} else {
				payment.Status = models.PaymentExpired
			}
		} else {
			s.checkOnDemand(ctx, payment)
		}
	}

	return s.statusInfo(payment, now), nil
}

// checkOnDemand выполняет сверку платежа с блокчейном под ограничением
// частоты и бюджетом времени. Ошибки провайдера логируются и не
// прерывают формирование ответа.
func (s *Service) checkOnDemand(ctx context.Context, payment *models.Payment) {
	const op = "payment.checkOnDemand"

	free, err := s.cache.Throttle("paymentcheck:"+payment.ClientPaymentID, s.cfg.CheckThrottle)
	if err != nil {
		s.log.Warn("throttle check failed", sl.Op(op), sl.Err(err))
		return
	}
	if !free {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	client := s.clients[payment.Currency]
	txID, found, err := s.findTransfer(checkCtx, client, payment)
	if err != nil {
		metrics.ChainRequestsTotal.WithLabelValues(string(payment.Currency), "error").Inc()
		s.log.Warn("on-demand transfer scan failed", sl.Op(op),
			slog.String("client_payment_id", payment.ClientPaymentID), sl.Err(err))
		return
	}
	metrics.ChainRequestsTotal.WithLabelValues(string(payment.Currency), "ok").Inc()
	if !found {
		return
	}
	if err := s.Confirm(ctx, payment, txID); err != nil {
		s.log.Error("failed to confirm payment", sl.Op(op), sl.Err(err))
	}
}

// findTransfer ищет входящий перевод с точной суммой платежа в его
// окне оплаты. Сравнение выполняется в целых единицах токена.
func (s *Service) findTransfer(ctx context.Context, client chain.Client, payment *models.Payment) (string, bool, error) {
	raw, err := client.RawAmount(ctx, payment.Amount)
	if err != nil {
		return "", false, err
	}
	transfers, err := client.Transfers(ctx, payment.CreatedAt, payment.ExpirationTime)
	if err != nil {
		return "", false, err
	}
	txID, ok := matchTransfer(payment, transfers, raw)
	return txID, ok, nil
}

// matchTransfer возвращает хэш первого перевода с точной суммой
// в окне оплаты платежа.
func matchTransfer(payment *models.Payment, transfers []chain.Transfer, raw *big.Int) (string, bool) {
	for _, tr := range transfers {
		if tr.Value.Cmp(raw) != 0 {
			continue
		}
		if tr.Timestamp.Before(payment.CreatedAt) || tr.Timestamp.After(payment.ExpirationTime) {
			continue
		}
		return tr.TxID, true
	}
	return "", false
}

// Confirm атомарно подтверждает платёж и применяет его к подписке.
// Повторное подтверждение того же платежа — no-op.
func (s *Service) Confirm(ctx context.Context, payment *models.Payment, transactionID string) error {
	const op = "payment.Confirm"

	confirmed, err := s.repo.ConfirmPaymentTx(ctx, payment.ClientPaymentID, transactionID,
		func(tx *sql.Tx, fresh *models.Payment) error {
			return s.reconciler.ReconcileTx(ctx, tx, fresh)
		})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !confirmed {
		return nil
	}

	payment.Status = models.PaymentConfirmed
	payment.TransactionID = &transactionID
	metrics.PaymentsConfirmedTotal.WithLabelValues(string(payment.Currency)).Inc()
	s.log.Info("payment confirmed",
		slog.String("client_payment_id", payment.ClientPaymentID),
		slog.String("transaction_id", transactionID))

	if err := s.publisher.Publish("payments", "confirmed", Event{
		ClientPaymentID: payment.ClientPaymentID,
		UserUID:         payment.UserUID,
		TransactionID:   transactionID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          models.PaymentConfirmed,
		OccurredAt:      time.Now().UTC(),
	}); err != nil {
		s.log.Error("failed to publish confirmed event", sl.Op(op), sl.Err(err))
	}
	return nil
}

// expire переводит платёж в expired и публикует событие.
func (s *Service) expire(ctx context.Context, payment *models.Payment) error {
	rows, err := s.repo.ExpirePayment(ctx, payment.ClientPaymentID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	metrics.PaymentsExpiredTotal.Inc()
	if err := s.publisher.Publish("payments", "expired", Event{
		ClientPaymentID: payment.ClientPaymentID,
		UserUID:         payment.UserUID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          models.PaymentExpired,
		OccurredAt:      time.Now().UTC(),
	}); err != nil {
		s.log.Error("failed to publish expired event", sl.Err(err))
	}
	return nil
}

// CheckPending — проход фонового планировщика: сначала истекают
// просроченные платежи, затем оставшиеся ожидающие сверяются
// с переводами. Ошибка по одному платежу не прерывает проход.
func (s *Service) CheckPending(ctx context.Context) error {
	const op = "payment.CheckPending"

	now := time.Now().UTC()
	expired, err := s.repo.ExpireDuePayments(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, clientPaymentID := range expired {
		metrics.PaymentsExpiredTotal.Inc()
		if err := s.publisher.Publish("payments", "expired", Event{
			ClientPaymentID: clientPaymentID,
			Status:          models.PaymentExpired,
			OccurredAt:      now,
		}); err != nil {
			s.log.Error("failed to publish expired event", sl.Op(op), sl.Err(err))
		}
	}
	if len(expired) > 0 {
		s.log.Info("expired due payments", slog.Int("count", len(expired)))
	}

	pending, err := s.repo.ListPendingPayments(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(pending) == 0 {
		return nil
	}

	// Один проход по кошельку на валюту вместо запроса на каждый платёж.
	byCurrency := make(map[models.Currency][]*models.Payment)
	for _, p := range pending {
		byCurrency[p.Currency] = append(byCurrency[p.Currency], p)
	}

	for currency, group := range byCurrency {
		client, ok := s.clients[currency]
		if !ok {
			s.log.Error("no chain client for currency", sl.Op(op), slog.String("currency", string(currency)))
			continue
		}

		from := group[0].CreatedAt
		for _, p := range group[1:] {
			if p.CreatedAt.Before(from) {
				from = p.CreatedAt
			}
		}

		transfers, err := client.Transfers(ctx, from, now)
		if err != nil {
			metrics.ChainRequestsTotal.WithLabelValues(string(currency), "error").Inc()
			s.log.Error("transfer scan failed", sl.Op(op),
				slog.String("currency", string(currency)), sl.Err(err))
			continue
		}
		metrics.ChainRequestsTotal.WithLabelValues(string(currency), "ok").Inc()

		for _, p := range group {
			raw, err := client.RawAmount(ctx, p.Amount)
			if err != nil {
				s.log.Error("failed to compute raw amount", sl.Op(op),
					slog.String("client_payment_id", p.ClientPaymentID), sl.Err(err))
				continue
			}
			txID, ok := matchTransfer(p, transfers, raw)
			if !ok {
				continue
			}
			if err := s.Confirm(ctx, p, txID); err != nil {
				s.log.Error("failed to confirm payment", sl.Op(op),
					slog.String("client_payment_id", p.ClientPaymentID), sl.Err(err))
			}
		}
	}
	return nil
}

// List возвращает платежи пользователя с пагинацией.
func (s *Service) List(ctx context.Context, userUID string, limit, offset int) ([]*models.Payment, error) {
	return s.repo.ListUserPayments(ctx, userUID, limit, offset)
}

// statusInfo собирает ответ конечной точки статуса платежа.
func (s *Service) statusInfo(payment *models.Payment, now time.Time) *models.PaymentStatusInfo {
	var address string
	if client, ok := s.clients[payment.Currency]; ok {
		address = client.WalletAddress()
	}
	var remaining int64
	if payment.Status == models.PaymentPending {
		if d := payment.ExpirationTime.Sub(now); d > 0 {
			remaining = int64(d.Seconds())
		}
	}
	return &models.PaymentStatusInfo{
		ClientPaymentID:  payment.ClientPaymentID,
		Status:           payment.Status,
		Amount:           decimal.NewFromInt(payment.Amount).Div(decimal.NewFromInt(100)).StringFixed(2),
		Currency:         payment.Currency,
		Address:          address,
		SecondsRemaining: remaining,
	}
}
