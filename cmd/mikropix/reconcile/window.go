package reconcile

import (
	"time"
	_ "time/tzdata"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const DefaultTimezone = "America/Manaus"

// Periods are the calendar windows rendered on the dashboard. Today, Week and
// Month end at now; PreviousMonth is the full prior calendar month.
type Periods struct {
	Today         models.Window
	Week          models.Window
	Month         models.Window
	PreviousMonth models.Window
}

func PeriodsAt(now time.Time, loc *time.Location) Periods {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekStart := dayStart.AddDate(0, 0, -int(local.Weekday()))
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	prevStart := monthStart.AddDate(0, -1, 0)
	return Periods{
		Today:         models.Window{Start: dayStart, End: now},
		Week:          models.Window{Start: weekStart, End: now},
		Month:         models.Window{Start: monthStart, End: now},
		PreviousMonth: models.Window{Start: prevStart, End: monthStart},
	}
}

// Span is the smallest window covering every period and the caller window.
func (p Periods) Span(w models.Window) models.Window {
	out := p.PreviousMonth.Union(p.Week).Union(p.Month).Union(p.Today)
	if w.Valid() {
		out = out.Union(w)
	}
	return out
}
