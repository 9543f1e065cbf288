package settlement

import (
	"time"

	"github.com/gridmesh/vpp/core/model"
)

// PeriodBounds computes the [start, end) boundaries of the period bucket
// containing t: calendar day, Sunday-start week, calendar month, 3-month
// quarter starting Jan/Apr/Jul/Oct, or calendar year.
func PeriodBounds(t time.Time, p model.PeriodType) (time.Time, time.Time) {
	loc := t.Location()
	switch p {
	case model.PeriodDaily:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	case model.PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, start.AddDate(0, 0, 7)
	case model.PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case model.PeriodQuarterly:
		quarterMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		start := time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 3, 0)
	case model.PeriodAnnual:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}
