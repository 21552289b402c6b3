// Package month содержит календарную арифметику оплаченных периодов.
package month

import (
	"time"
)

// Add прибавляет к дате n месяцев, не перескакивая через конец месяца:
// 31 января + 1 месяц даёт 29 (28) февраля, а не 2 (3) марта, как time.AddDate.
func Add(start time.Time, n int) time.Time {
	if n == 0 {
		return start
	}
	y, m, d := start.Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, start.Location())
	lastDay := daysIn(firstOfTarget.Month(), firstOfTarget.Year())
	if d > lastDay {
		d = lastDay
	}
	hh, mm, ss := start.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, hh, mm, ss, start.Nanosecond(), start.Location())
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
