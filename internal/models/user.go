package models

import "time"

// User представляет пользователя платформы. Регистрация и аутентификация
// выполняются отдельным сервисом, здесь пользователь нужен для проверки
// возраста и привязки платежей и подписок.
type User struct {
	UID         string
	Username    string
	Email       string
	Role        string
	DateOfBirth time.Time
	CreatedAt   time.Time
}

// Age возвращает полный возраст пользователя на момент now.
func (u *User) Age(now time.Time) int {
	age := now.Year() - u.DateOfBirth.Year()
	if now.Month() < u.DateOfBirth.Month() ||
		(now.Month() == u.DateOfBirth.Month() && now.Day() < u.DateOfBirth.Day()) {
		age--
	}
	return age
}
