// Package models содержит доменные структуры платежей и подписок,
// а также вспомогательные типы для приёма данных из JSON-запросов.
package models

import "time"

// Currency определяет поддерживаемые криптовалюты для оплаты.
type Currency string

const (
	// CurrencyUSDTTRC20 — USDT в сети TRON.
	CurrencyUSDTTRC20 Currency = "usdttrc20"
	// CurrencyUSDTBEP20 — USDT в сети BSC.
	CurrencyUSDTBEP20 Currency = "usdtbep20"
)

// Valid сообщает, поддерживается ли валюта.
func (c Currency) Valid() bool {
	return c == CurrencyUSDTTRC20 || c == CurrencyUSDTBEP20
}

// PaymentStatus определяет состояние платежа.
type PaymentStatus string

const (
	// PaymentPending — платёж создан, перевод ещё не найден.
	PaymentPending PaymentStatus = "pending"
	// PaymentConfirmed — найден соответствующий перевод в блокчейне.
	PaymentConfirmed PaymentStatus = "confirmed"
	// PaymentExpired — окно оплаты истекло без перевода.
	PaymentExpired PaymentStatus = "expired"
	// PaymentFailed — платёж аннулирован вручную (администратором).
	PaymentFailed PaymentStatus = "failed"
)

// PaymentPurpose определяет назначение платежа.
type PaymentPurpose string

const (
	// PurposeSubscription — оплата подписки.
	PurposeSubscription PaymentPurpose = "subscription"
	// PurposeOther — прочие покупки, подписку не затрагивают.
	PurposeOther PaymentPurpose = "other"
)

// Payment представляет собой намерение оплаты, ожидающее перевод в блокчейне.
// Amount хранится в минимальных единицах (центах), чтобы избежать
// накопления ошибок плавающей точки. TransactionID устанавливается
// ровно один раз — при подтверждении платежа.
type Payment struct {
	ID              int
	UserUID         string
	Purpose         PaymentPurpose
	Level           SubscriptionLevel // заполняется только при Purpose == subscription
	PaymentMethod   string
	ClientPaymentID string
	TransactionID   *string
	Amount          int64 // минимальные единицы (центы)
	Currency        Currency
	DiscountID      *int
	DiscountApplied int64
	Status          PaymentStatus
	CreatedAt       time.Time
	ExpirationTime  time.Time
}

// Expired сообщает, истекло ли окно оплаты на момент now.
func (p *Payment) Expired(now time.Time) bool {
	return now.After(p.ExpirationTime)
}

// DummyPurchase используется для приёма запроса на покупку подписки из JSON.
type DummyPurchase struct {
	Level     string `json:"level" validate:"required"`              // Уровень подписки: basic, pro, premium
	Currency  string `json:"currency" validate:"required"`           // Валюта: usdttrc20, usdtbep20
	PromoCode string `json:"promo_code,omitempty" validate:"omitempty,alphanum"` // Промокод (опционально)
}

// PurchaseInvoice возвращается при создании платежа: куда и сколько перевести.
type PurchaseInvoice struct {
	ClientPaymentID string    `json:"client_payment_id"`
	Address         string    `json:"address"`
	Amount          string    `json:"amount"`
	Currency        Currency  `json:"currency"`
	ExpirationTime  time.Time `json:"expiration_time"`
	DiscountInfo    string    `json:"discount_info,omitempty"`
}

// PaymentStatusInfo возвращается конечной точкой проверки статуса платежа.
// Формируется всегда, даже при недоступности блокчейн-провайдера.
type PaymentStatusInfo struct {
	ClientPaymentID  string        `json:"client_payment_id"`
	Status           PaymentStatus `json:"status"`
	Amount           string        `json:"amount"`
	Currency         Currency      `json:"currency"`
	Address          string        `json:"address"`
	SecondsRemaining int64         `json:"seconds_remaining"`
}
