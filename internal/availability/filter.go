// Package availability selects the days of one availability window that
// have enough remaining permits for a trail.
package availability

import (
	"sort"
	"strconv"
	"time"

	"github.com/username/permit-finder/internal/recgov"
	"github.com/username/permit-finder/pkg/dateutil"
)

// Result is one qualifying future day
type Result struct {
	Date      string // YYYY-MM-DD
	DayOfWeek string // Monday..Sunday
	Remaining int
}

// Filter returns, keyed by date, every day in resp where trailID has at least
// minSpots remaining permits and the day is strictly after today. today must
// already be the calendar day in the reference timezone (see dateutil.TodayIn).
//
// Days without a usable entry for the trail, below the threshold, not in the
// future or with an unparseable date key are skipped. An empty entry counts as
// no entry.
func Filter(resp *recgov.AvailabilityResponse, trailID, minSpots int, today time.Time) map[string]Result {
	results := make(map[string]Result)
	if resp == nil {
		return results
	}

	key := strconv.Itoa(trailID)
	for date, trails := range resp.Payload {
		info, ok := trails[key]
		if !ok || !info.Valid() || info.Remaining < minSpots {
			continue
		}

		day, err := dateutil.ParseDate(date)
		if err != nil {
			continue
		}
		if !dateutil.DayAfter(day, today) {
			continue
		}

		results[date] = Result{
			Date:      date,
			DayOfWeek: day.Weekday().String(),
			Remaining: info.Remaining,
		}
	}

	return results
}

// SortedDates returns the keys of results in chronological order
func SortedDates(results map[string]Result) []string {
	dates := make([]string, 0, len(results))
	for date := range results {
		dates = append(dates, date)
	}
	// YYYY-MM-DD sorts lexically in date order
	sort.Strings(dates)
	return dates
}
