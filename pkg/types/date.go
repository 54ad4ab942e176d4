package types

import (
	"time"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// DateLayout is the textual form of a Date.
const DateLayout = "2006-01-02"

// DateDays counts calendar days since 1970-01-01. Negative values are
// dates before the epoch.
type DateDays int32

const secondsPerDay = 24 * 60 * 60

// ParseDate parses a YYYY-MM-DD literal.
func ParseDate(s string) (DateDays, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return 0, qerrors.TypeMismatch("invalid date literal %q: %v", s, err)
	}
	return DateFromTime(t), nil
}

// MustParseDate is ParseDate that panics; used for static plan literals.
func MustParseDate(s string) DateDays {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateFromTime truncates t to its UTC calendar day.
func DateFromTime(t time.Time) DateDays {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return DateDays(midnight.Unix() / secondsPerDay)
}

// Time returns midnight UTC of the date.
func (d DateDays) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// AddDays shifts the date by n calendar days; n may be negative.
func (d DateDays) AddDays(n int) DateDays {
	return d + DateDays(n)
}

// String renders the date as YYYY-MM-DD.
func (d DateDays) String() string {
	return d.Time().Format(DateLayout)
}
