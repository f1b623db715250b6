package shell

import "strings"

func emailSet(emails []string) map[string]bool {
	set := make(map[string]bool, len(emails))
	for _, email := range emails {
		set[strings.ToLower(email)] = true
	}
	return set
}

// WithParticipation returns a copy of s where every attendee whose email is
// in emails answers status. The boolean is false when no attendee changed.
func WithParticipation(s Shell, emails []string, status string) (Shell, bool) {
	set := emailSet(emails)
	attendees := make([]Attendee, len(s.Attendees))
	copy(attendees, s.Attendees)

	changed := false
	for i := range attendees {
		if set[strings.ToLower(attendees[i].Email)] && attendees[i].PartStat != status {
			attendees[i].PartStat = status
			changed = true
		}
	}
	s.Attendees = attendees
	return s, changed
}

// IsOrganizer reports whether one of emails organizes s. Events without an
// organizer belong to whoever looks at them.
func IsOrganizer(s Shell, emails []string) bool {
	organizer, ok := s.Organizer.Get()
	if !ok || organizer.Email == "" {
		return true
	}
	return emailSet(emails)[strings.ToLower(organizer.Email)]
}

// NeedsAction reports whether the last attendee matching emails still has to
// answer the invitation.
func NeedsAction(s Shell, emails []string) bool {
	set := emailSet(emails)
	var invited *Attendee
	for i := range s.Attendees {
		if set[strings.ToLower(s.Attendees[i].Email)] {
			invited = &s.Attendees[i]
		}
	}
	if invited == nil {
		return false
	}
	return invited.PartStat == PartStatNeedsAction || invited.PartStat == PartStatTentative
}
