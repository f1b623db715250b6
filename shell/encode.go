package shell

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// Encode builds a fresh VCALENDAR holding one VEVENT from s. Only the fields a
// shell models are written; anything else the event once carried is lost.
func Encode(s Shell) *ical.Calendar {
	uid := s.ID
	if uid == "" {
		uid = uuid.New().String()
	}

	cal := ical.NewCalendar()
	setText(cal.Component, PropProductID, productID)
	setText(cal.Component, PropVersion, "2.0")

	vevent := ical.NewComponent(ical.CompEvent)
	setText(vevent, PropUID, uid)
	setText(vevent, PropSummary, s.Title)

	stamp := ical.NewProp(string(PropDTStamp))
	stamp.Value = time.Now().UTC().Format(dateTimeLayout + "Z")
	vevent.Props.Set(stamp)

	if organizer, ok := s.Organizer.Get(); ok {
		prop := ical.NewProp(string(PropOrganizer))
		prop.Value = PrependMailto(organizer.Email)
		setParam(prop, ParamCN, organizer.DisplayName)
		vevent.Props.Set(prop)
	}

	vevent.Props.Set(dateProp(PropDTStart, s.Start, s.AllDay))
	vevent.Props.Set(dateProp(PropDTEnd, s.End, s.AllDay))

	if s.AllDay {
		setText(vevent, PropTransp, TranspTransparent)
	} else {
		setText(vevent, PropTransp, TranspOpaque)
	}

	if s.Location != "" {
		setText(vevent, PropLocation, s.Location)
	}
	if s.Description != "" {
		setText(vevent, PropDescription, s.Description)
	}
	if status, ok := s.Status.Get(); ok && status != "" {
		setText(vevent, PropStatus, status)
	}

	for _, attendee := range s.Attendees {
		prop := ical.NewProp(string(PropAttendee))
		prop.Value = PrependMailto(attendee.Email)
		partstat := attendee.PartStat
		if partstat == "" {
			partstat = PartStatNeedsAction
		}
		setParam(prop, ParamPartStat, partstat)
		setParam(prop, ParamRSVP, RSVPTrue)
		setParam(prop, ParamRole, RoleReqParticipant)
		if attendee.DisplayName != "" && attendee.DisplayName != attendee.Email {
			setParam(prop, ParamCN, attendee.DisplayName)
		}
		vevent.Props.Add(prop)
	}

	cal.Children = append(cal.Children, vevent)
	return cal
}

func dateProp(name PropertyName, t time.Time, allDay bool) *ical.Prop {
	prop := ical.NewProp(string(name))
	local := t.In(LocalLocation())
	if allDay {
		setParam(prop, ParamValue, valueDate)
		prop.Value = local.Format(dateLayout)
	} else {
		prop.Value = local.Format(dateTimeLayout)
	}
	setParam(prop, ParamTZID, LocalTimezone())
	return prop
}

// InvitedAttendees returns the ATTENDEE properties of cal's VEVENT whose
// address is one of emails, in their original order. A matching ORGANIZER is
// appended last: some mail clients ignore invitations that only name the
// organizer.
func InvitedAttendees(cal *ical.Calendar, emails []string) []ical.Prop {
	vevent := FirstEvent(cal)
	if vevent == nil {
		return nil
	}

	wanted := make(map[string]bool, len(emails))
	for _, email := range emails {
		wanted[strings.ToLower(email)] = true
	}

	var invited []ical.Prop
	for _, prop := range allProps(vevent, PropAttendee) {
		if wanted[strings.ToLower(RemoveMailto(prop.Value))] {
			invited = append(invited, prop)
		}
	}

	if organizer := getProp(vevent, PropOrganizer); organizer != nil {
		if wanted[strings.ToLower(RemoveMailto(organizer.Value))] {
			invited = append(invited, *organizer)
		}
	}
	return invited
}
