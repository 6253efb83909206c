// Package chain определяет общий интерфейс клиентов блокчейнов и
// нормализованное представление перевода токенов.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Transfer нормализованный входящий перевод токенов на кошелёк платформы.
// Value хранится в сырых единицах токена (с учётом его decimals),
// сравнение с ожидаемой суммой выполняется точно, без плавающей точки.
type Transfer struct {
	TxID      string
	To        string
	Value     *big.Int
	Timestamp time.Time
}

// Client запрашивает у одной сети переводы токенов на кошелёк платформы.
type Client interface {
	// WalletAddress возвращает адрес, на который принимаются платежи.
	WalletAddress() string
	// Transfers возвращает входящие переводы в окне [from, to].
	Transfers(ctx context.Context, from, to time.Time) ([]Transfer, error)
	// RawAmount переводит сумму из минимальных единиц (центов) в сырые
	// единицы токена этой сети.
	RawAmount(ctx context.Context, amountMinor int64) (*big.Int, error)
}

// RawFromMinor переводит сумму из минимальных единиц в сырые единицы
// токена с заданным decimals: amountMinor * 10^(decimals-2).
// Для токенов с decimals < 2 центы непредставимы точно.
func RawFromMinor(amountMinor int64, decimals int32) (*big.Int, error) {
	if decimals < 2 {
		return nil, fmt.Errorf("token decimals %d cannot represent minor units", decimals)
	}
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)
	return new(big.Int).Mul(big.NewInt(amountMinor), exp), nil
}
