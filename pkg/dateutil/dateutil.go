package dateutil

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used by the permit API
const DateLayout = "2006-01-02"

// MonthWindow is one whole calendar month used as a query range
type MonthWindow struct {
	Start time.Time // 1st of the month, 00:00
	End   time.Time // last day of the same month, 00:00
}

// StartString returns the window start as YYYY-MM-DD
func (w MonthWindow) StartString() string {
	return FormatDate(w.Start)
}

// EndString returns the window end as YYYY-MM-DD
func (w MonthWindow) EndString() string {
	return FormatDate(w.End)
}

func (w MonthWindow) String() string {
	return fmt.Sprintf("%s..%s", w.StartString(), w.EndString())
}

// MonthWindows returns n consecutive calendar-month windows, the first one
// being the month that contains now. Months are stepped as a year/month pair,
// so December always rolls over into January of the next year.
func MonthWindows(now time.Time, n int) []MonthWindow {
	if n <= 0 {
		return []MonthWindow{}
	}

	windows := make([]MonthWindow, 0, n)
	year, month := now.Year(), now.Month()
	for i := 0; i < n; i++ {
		windows = append(windows, MonthWindow{
			Start: StartOfMonth(year, month, now.Location()),
			End:   EndOfMonth(year, month, now.Location()),
		})
		year, month = NextMonth(year, month)
	}
	return windows
}

// NextMonth returns the calendar month following year/month
func NextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// DaysIn returns the number of days in the given month (leap-year aware)
func DaysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfMonth returns the 1st of the month at 00:00
func StartOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, loc)
}

// EndOfMonth returns the last day of the month at 00:00
func EndOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, DaysIn(year, month), 0, 0, 0, 0, loc)
}

// StartOfDay returns the start of the day (00:00:00) for the given date
func StartOfDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// TodayIn returns the calendar day of now as seen in loc (start of day).
// A nil loc means UTC.
func TodayIn(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return StartOfDay(now.In(loc))
}

// DayAfter reports whether the calendar day of a is strictly later than the
// calendar day of b. Clock time and location are ignored.
func DayAfter(a, b time.Time) bool {
	if a.Year() != b.Year() {
		return a.Year() > b.Year()
	}
	if a.Month() != b.Month() {
		return a.Month() > b.Month()
	}
	return a.Day() > b.Day()
}

// FormatDate formats date as YYYY-MM-DD
func FormatDate(date time.Time) string {
	return date.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar day (UTC midnight)
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	return t, nil
}

// LoadLocation resolves an IANA zone name, treating "" as UTC
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
