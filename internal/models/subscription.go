package models

import "time"

// SubscriptionLevel определяет уровень подписки.
type SubscriptionLevel string

const (
	// LevelBasic — базовый уровень.
	LevelBasic SubscriptionLevel = "basic"
	// LevelPro — продвинутый уровень.
	LevelPro SubscriptionLevel = "pro"
	// LevelPremium — максимальный уровень.
	LevelPremium SubscriptionLevel = "premium"
)

// Subscription представляет собой строку истории подписки пользователя.
// Подписка действует в окне [StartsAt, ExpiryDate); отложенный период
// (оплаченное понижение уровня) начинается после окончания текущего,
// поэтому периоды пользователя не пересекаются.
type Subscription struct {
	ID         int
	UserUID    string
	Level      SubscriptionLevel
	StartsAt   time.Time
	ExpiryDate time.Time
	PaymentID  *int // платёж, последним продливший подписку
}

// Active сообщает, действует ли подписка на момент now.
func (s *Subscription) Active(now time.Time) bool {
	return !s.StartsAt.After(now) && s.ExpiryDate.After(now)
}

// SubscriptionStatusInfo возвращается конечной точкой статуса подписки.
type SubscriptionStatusInfo struct {
	Active     bool              `json:"active"`
	Level      SubscriptionLevel `json:"level,omitempty"`
	ExpiryDate *time.Time        `json:"expiry_date,omitempty"`
}

var levelRank = map[SubscriptionLevel]int{
	LevelBasic:   1,
	LevelPro:     2,
	LevelPremium: 3,
}

// Rank возвращает порядок уровня для сравнения при повышении и понижении.
// Неизвестный уровень имеет ранг 0.
func (l SubscriptionLevel) Rank() int {
	return levelRank[l]
}

// Valid сообщает, известен ли уровень подписки.
func (l SubscriptionLevel) Valid() bool {
	return levelRank[l] != 0
}
