// Package shell maps iCalendar VEVENT components to the flat event records a
// calendar widget renders, and back.
package shell

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// ErrMalformedEvent is returned by Decode when the calendar does not carry a
// usable VEVENT.
var ErrMalformedEvent = errors.New("malformed event")

// Person is an organizer or attendee identity.
type Person struct {
	Email       string
	DisplayName string
}

// FullMail renders the person as "Display Name <mail>", or just the mail when
// the display name is the mail itself.
func (p Person) FullMail() string {
	if p.DisplayName == "" || p.DisplayName == p.Email {
		return p.Email
	}
	return p.DisplayName + " <" + p.Email + ">"
}

// Attendee is an invited participant and their answer.
type Attendee struct {
	Person
	PartStat string
}

// Shell is the widget-facing view of one calendar event.
type Shell struct {
	ID          string
	Title       string
	Location    string
	Description string
	AllDay      bool
	Start       time.Time
	End         time.Time
	Organizer   mo.Option[Person]
	Attendees   []Attendee
	Status      mo.Option[string]

	// Path and ETag are empty until the event exists server side.
	Path string
	ETag string
	// GraceTaskID is set while a staged change to this event can still be undone.
	GraceTaskID string

	// Calendar is the component the shell was decoded from. Editing the
	// shell does not update it.
	Calendar *ical.Calendar
}

// Validate checks the shell can be encoded into a well-formed event.
func (s Shell) Validate() error {
	if s.End.Before(s.Start) {
		return fmt.Errorf("%w: event ends before it starts", ErrMalformedEvent)
	}
	return nil
}

// IsCancelled reports whether the event carries STATUS:CANCELLED.
func (s Shell) IsCancelled() bool {
	status, ok := s.Status.Get()
	return ok && strings.EqualFold(status, StatusCancelled)
}

func (s Shell) FormattedDate() string {
	return s.Start.In(LocalLocation()).Format("January 2, 2006")
}

func (s Shell) FormattedStartTime() string {
	return s.Start.In(LocalLocation()).Format("3")
}

func (s Shell) FormattedStartA() string {
	return s.Start.In(LocalLocation()).Format("pm")
}

func (s Shell) FormattedEndTime() string {
	return s.End.In(LocalLocation()).Format("3")
}

func (s Shell) FormattedEndA() string {
	return s.End.In(LocalLocation()).Format("pm")
}

// DecodeOption sets server-side metadata on a decoded shell.
type DecodeOption func(*Shell)

func WithPath(path string) DecodeOption {
	return func(s *Shell) { s.Path = path }
}

func WithETag(etag string) DecodeOption {
	return func(s *Shell) { s.ETag = etag }
}

func WithGraceTask(taskID string) DecodeOption {
	return func(s *Shell) { s.GraceTaskID = taskID }
}

// FirstEvent returns the first VEVENT of cal, or nil.
func FirstEvent(cal *ical.Calendar) *ical.Component {
	if cal == nil || cal.Component == nil {
		return nil
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child
		}
	}
	return nil
}

// Decode builds a shell from the first VEVENT of cal. DTSTART and DTEND are
// required and DTEND may not precede DTSTART; violations are reported as
// ErrMalformedEvent.
func Decode(cal *ical.Calendar, opts ...DecodeOption) (Shell, error) {
	vevent := FirstEvent(cal)
	if vevent == nil {
		return Shell{}, fmt.Errorf("%w: no VEVENT in VCALENDAR", ErrMalformedEvent)
	}

	start, allDay, err := timeOf(vevent, PropDTStart)
	if err != nil {
		return Shell{}, err
	}
	end, _, err := timeOf(vevent, PropDTEnd)
	if err != nil {
		return Shell{}, err
	}
	if end.Before(start) {
		return Shell{}, fmt.Errorf("%w: %s before %s", ErrMalformedEvent, PropDTEnd, PropDTStart)
	}

	s := Shell{
		ID:          textOf(vevent, PropUID),
		Title:       textOf(vevent, PropSummary),
		Location:    textOf(vevent, PropLocation),
		Description: textOf(vevent, PropDescription),
		AllDay:      allDay,
		Start:       start,
		End:         end,
		Organizer:   mo.None[Person](),
		Status:      mo.None[string](),
		Attendees:   []Attendee{},
		Calendar:    cal,
	}
	if status := textOf(vevent, PropStatus); status != "" {
		s.Status = mo.Some(status)
	}

	for _, prop := range allProps(vevent, PropAttendee) {
		if prop.Value == "" {
			continue
		}
		s.Attendees = append(s.Attendees, Attendee{
			Person:   personOf(&prop),
			PartStat: param(&prop, ParamPartStat),
		})
	}

	if organizer := getProp(vevent, PropOrganizer); organizer != nil && organizer.Value != "" {
		s.Organizer = mo.Some(personOf(organizer))
	}

	for _, opt := range opts {
		opt(&s)
	}
	return s, nil
}

func personOf(prop *ical.Prop) Person {
	mail := RemoveMailto(prop.Value)
	name := param(prop, ParamCN)
	if name == "" {
		name = mail
	}
	return Person{Email: mail, DisplayName: name}
}

// timeOf parses a DTSTART/DTEND style property. The boolean is true for
// DATE values.
func timeOf(vevent *ical.Component, name PropertyName) (time.Time, bool, error) {
	prop := getProp(vevent, name)
	if prop == nil || prop.Value == "" {
		return time.Time{}, false, fmt.Errorf("%w: missing %s", ErrMalformedEvent, name)
	}

	loc := LocalLocation()
	if tzid := param(prop, ParamTZID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	value := strings.TrimSpace(prop.Value)
	isDate := strings.EqualFold(param(prop, ParamValue), valueDate) || len(value) == len(dateLayout)

	var (
		t   time.Time
		err error
	)
	switch {
	case isDate:
		t, err = time.ParseInLocation(dateLayout, value, loc)
	case strings.HasSuffix(value, "Z"):
		t, err = time.Parse(dateTimeLayout+"Z", value)
	default:
		t, err = time.ParseInLocation(dateTimeLayout, value, loc)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid %s %q", ErrMalformedEvent, name, value)
	}
	return t, isDate, nil
}

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)
