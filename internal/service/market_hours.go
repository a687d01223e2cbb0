package service

import (
	"time"
	_ "time/tzdata"
)

var exchangeLocation = loadExchangeLocation()

func loadExchangeLocation() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// IsRegularHours reports whether t falls in the equity index pit session,
// 08:30 to 15:00 Chicago time on weekdays.
func IsRegularHours(t time.Time) bool {
	local := t.In(exchangeLocation)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 8*60+30 && minutes < 15*60
}

// IsSessionOpen reports whether the electronic session is trading: Sunday
// 17:00 through Friday 16:00 Chicago time with a daily halt from 16:00 to 17:00.
func IsSessionOpen(t time.Time) bool {
	local := t.In(exchangeLocation)
	hour := local.Hour()
	switch local.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return hour >= 17
	case time.Friday:
		return hour < 16
	}
	return hour != 16
}
