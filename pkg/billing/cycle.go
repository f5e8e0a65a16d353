package billing

import (
	"fmt"
	"regexp"
	"time"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Months returns the length of the cycle in calendar months
func (c BillingCycle) Months() (int, error) {
	switch c {
	case BillingCycleMonthly:
		return 1, nil
	case BillingCycleQuarterly:
		return 3, nil
	case BillingCycleSemiAnnual:
		return 6, nil
	case BillingCycleAnnual:
		return 12, nil
	case BillingCycleOneTime:
		return 0, nil
	default:
		return 0, &ValidationError{Field: "billing_cycle", Reason: fmt.Sprintf("unknown billing cycle %q", c)}
	}
}

// Valid reports whether c is a known billing cycle
func (c BillingCycle) Valid() bool {
	_, err := c.Months()
	return err == nil
}

// DateOf truncates t to a calendar date in UTC
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts a date by n calendar months. When the day does not exist
// in the target month it is clamped to the month's last day, so Jan 31 plus
// one month is Feb 28 (or Feb 29 in a leap year).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	month := total % 12
	if month < 0 {
		month += 12
		y--
	}
	target := time.Month(month + 1)
	if last := daysIn(y, target); d > last {
		d = last
	}
	return time.Date(y, target, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// PeriodEnd computes the end date of a billing period starting at start
func PeriodEnd(start time.Time, cycle BillingCycle) (time.Time, error) {
	months, err := cycle.Months()
	if err != nil {
		return time.Time{}, err
	}
	return AddMonths(DateOf(start), months), nil
}

// TrialEnd returns start plus the given number of trial days
func TrialEnd(start time.Time, days int) time.Time {
	return DateOf(start).AddDate(0, 0, days)
}

func sameDay(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

func validateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return &ValidationError{Field: "currency", Reason: fmt.Sprintf("must be a three-letter ISO code, got %q", code)}
	}
	return nil
}
