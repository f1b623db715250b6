package davclient

import (
	"path"
	"strings"
)

// DefaultCalendarID names the calendar every home starts with.
const DefaultCalendarID = "events"

// CalendarPath is the gateway path of a calendar: /calendars/{home}/{calendar}.
func CalendarPath(homeID, calendarID string) string {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return "/calendars/" + homeID + "/" + calendarID
}

// EventPath is the path of the event uid inside calendarPath.
func EventPath(calendarPath, uid string) string {
	return strings.TrimRight(calendarPath, "/") + "/" + uid + ".ics"
}

// homeIDFromHref turns a calendar-home-set href such as /calendars/abc/ into abc.
func homeIDFromHref(href string) string {
	return path.Base(strings.TrimRight(href, "/"))
}
