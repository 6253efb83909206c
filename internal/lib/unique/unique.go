// Package unique подбирает уникальную сумму платежа.
//
// Блокчейн-переводы не несут идентификатора платежа, поэтому сумма —
// единственный практический ключ сверки помимо адреса кошелька и
// временного окна. Чтобы входящий перевод сопоставлялся ровно одному
// ожидающему платежу, суммы дедуплицируются в момент выставления счёта.
package unique

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoUniqueAmount возвращается, когда все кандидаты заняты другими
// ожидающими платежами. Для вызывающего это повторяемая ошибка:
// конфликт рассасывается по мере истечения ожидающих платежей.
var ErrNoUniqueAmount = errors.New("no available unique amount")

// ConflictFunc сообщает, занята ли сумма (в минимальных единицах)
// другим ожидающим неистёкшим платежом.
type ConflictFunc func(ctx context.Context, amountMinor int64) (bool, error)

// Смещения кандидатов в центах, в порядке перебора.
var offsets = []int64{0, -1, +1, -2, +2}

// Amount возвращает первую свободную сумму из ряда
// [P, P-0.01, P+0.01, P-0.02, P+0.02], пропуская кандидатов <= 0.
// Возвращает сумму и её значение в минимальных единицах.
func Amount(ctx context.Context, base decimal.Decimal, conflict ConflictFunc) (decimal.Decimal, int64, error) {
	baseMinor := base.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
	for _, off := range offsets {
		candidate := baseMinor + off
		if candidate <= 0 {
			continue
		}
		taken, err := conflict(ctx, candidate)
		if err != nil {
			return decimal.Zero, 0, err
		}
		if !taken {
			return decimal.NewFromInt(candidate).Div(decimal.NewFromInt(100)), candidate, nil
		}
	}
	return decimal.Zero, 0, ErrNoUniqueAmount
}
