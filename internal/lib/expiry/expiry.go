// Package expiry считает сроки действия ключей доступа.
// Подписочный "месяц" зафиксирован как 30 суток: столько же начисляет
// платёжный контур при активации, поэтому календарная арифметика
// (AddDate) здесь сознательно не используется.
package expiry

import "time"

// Month — длительность одного оплаченного месяца подписки.
const Month = 30 * 24 * time.Hour

// FromMonths возвращает момент истечения ключа через months оплаченных
// месяцев, отсчитанных от from.
func FromMonths(from time.Time, months int) time.Time {
	return from.Add(time.Duration(months) * Month)
}

// FromDays возвращает момент истечения ключа через days суток от from.
// Используется для пробного периода.
func FromDays(from time.Time, days int) time.Time {
	return from.Add(time.Duration(days) * 24 * time.Hour)
}
