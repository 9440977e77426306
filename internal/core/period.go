package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// DefaultPeriod is used when the caller does not pick one.
const DefaultPeriod = Monthly

// Period selects the aggregation window of dashboard queries.
type Period string

func Periods() []Period {
	return []Period{Weekly, Monthly, Yearly}
}

// ParsePeriod maps user input to a Period. Empty input yields DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultPeriod, nil
	}
	p := Period(s)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

func (p Period) Validate() error {
	switch p {
	case Weekly, Monthly, Yearly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
}

// Range returns the inclusive window the backend aggregates over when no
// explicit dates are sent: the Monday-to-Sunday week, the calendar month or
// the calendar year containing today.
func (p Period) Range(today Date) (start, end Date) {
	y, m, _ := today.Date()
	switch p {
	case Weekly:
		// time.Weekday counts from Sunday.
		offset := (int(today.Weekday()) + 6) % 7
		start = today.AddDays(-offset)
		return start, start.AddDays(6)
	case Yearly:
		return NewDate(y, 1, 1), NewDate(y, 12, 31)
	default:
		start = NewDate(y, int(m), 1)
		return start, Date{Time: start.AddDate(0, 1, -1)}
	}
}

// Today returns the current calendar date in the local zone.
func Today() Date {
	return DateOf(time.Now())
}
