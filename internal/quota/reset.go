package quota

import (
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/database"
)

// fixedDatePeriod is the period length for providers without a
// calendar anchor.
const fixedDatePeriod = 30 * 24 * time.Hour

// NextReset computes the next reset instant after from, according to
// the provider's reset policy:
//
//   - daily: the next occurrence of reset_hour in reset_timezone
//   - monthly: reset_day_of_month (clamped to the month's length) of
//     the following month, at reset_hour
//   - fixed_date: 30 days after from
func NextReset(p *database.Provider, from time.Time) time.Time {
	loc, err := time.LoadLocation(p.QuotaResetTimezone)
	if err != nil {
		log.Printf("[quota] provider %s: unknown timezone %q, using UTC", p.Name, p.QuotaResetTimezone)
		loc = time.UTC
	}

	switch p.QuotaResetType {
	case database.ResetMonthly:
		day := p.QuotaResetDayOfMonth
		if day < 1 {
			day = 1
		}
		f := from.In(loc)
		first := time.Date(f.Year(), f.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
		if last := daysInMonth(first); day > last {
			day = last
		}
		return time.Date(first.Year(), first.Month(), day, p.QuotaResetHour, 0, 0, 0, loc)

	case database.ResetFixedDate:
		return from.Add(fixedDatePeriod)

	default: // daily
		f := from.In(loc)
		next := time.Date(f.Year(), f.Month(), f.Day(), p.QuotaResetHour, 0, 0, 0, loc)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

func daysInMonth(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
