package shell

import "time"

// NewStartDate is the default start of an event created at now: the next
// full hour.
func NewStartDate(now time.Time) time.Time {
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return hour.Add(time.Hour)
}

// NewEndDate is one hour after NewStartDate.
func NewEndDate(now time.Time) time.Time {
	return NewStartDate(now).Add(time.Hour)
}

// SameDay reports whether a and b fall on the same calendar day in a's zone.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
