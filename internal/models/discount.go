package models

import "time"

// Discount представляет собой процентную скидку по промокоду.
// ValidUntil может быть nil — скидка без ограничения по времени.
// Количество использований не ограничивается, считается по платежам.
type Discount struct {
	ID         int
	Code       string
	Percentage int
	ValidUntil *time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// DummyDiscount используется для приёма данных скидки из JSON-запроса.
type DummyDiscount struct {
	Code       string `json:"code" validate:"required,alphanum"`         // Промокод
	Percentage int    `json:"percentage" validate:"required,gt=0,lte=100"` // Процент скидки (1-100)
	ValidUntil string `json:"valid_until,omitempty"`                     // Дата окончания в формате RFC3339 (опционально)
	IsActive   *bool  `json:"is_active,omitempty"`                       // Активна ли скидка (по умолчанию true)
}

// DiscountInfo возвращается админским API вместе со счётчиком использований.
type DiscountInfo struct {
	ID         int        `json:"id"`
	Code       string     `json:"code"`
	Percentage int        `json:"percentage"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UsageCount int        `json:"usage_count"`
}
