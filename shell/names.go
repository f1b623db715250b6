package shell

import (
	"strings"

	"github.com/emersion/go-ical"
)

// PropertyName is one of the iCalendar properties a shell models.
type PropertyName string

const (
	PropUID         PropertyName = "UID"
	PropSummary     PropertyName = "SUMMARY"
	PropLocation    PropertyName = "LOCATION"
	PropDescription PropertyName = "DESCRIPTION"
	PropDTStart     PropertyName = "DTSTART"
	PropDTEnd       PropertyName = "DTEND"
	PropDTStamp     PropertyName = "DTSTAMP"
	PropStatus      PropertyName = "STATUS"
	PropTransp      PropertyName = "TRANSP"
	PropOrganizer   PropertyName = "ORGANIZER"
	PropAttendee    PropertyName = "ATTENDEE"
	PropProductID   PropertyName = "PRODID"
	PropVersion     PropertyName = "VERSION"
)

// ParameterName is one of the property parameters a shell models.
type ParameterName string

const (
	ParamCN       ParameterName = "CN"
	ParamPartStat ParameterName = "PARTSTAT"
	ParamRole     ParameterName = "ROLE"
	ParamRSVP     ParameterName = "RSVP"
	ParamTZID     ParameterName = "TZID"
	ParamValue    ParameterName = "VALUE"
)

// Participation status values.
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	PartStatAccepted    = "ACCEPTED"
	PartStatDeclined    = "DECLINED"
	PartStatTentative   = "TENTATIVE"
	PartStatDelegated   = "DELEGATED"
)

// Event status values.
const (
	StatusConfirmed = "CONFIRMED"
	StatusTentative = "TENTATIVE"
	StatusCancelled = "CANCELLED"
)

const (
	RoleReqParticipant = "REQ-PARTICIPANT"
	RSVPTrue           = "TRUE"

	TranspOpaque      = "OPAQUE"
	TranspTransparent = "TRANSPARENT"

	valueDate = "DATE"
	mailto    = "mailto:"

	productID = "-//github.com/cyp0633/esncal//NONSGML v1.0//EN"
)

func getProp(c *ical.Component, name PropertyName) *ical.Prop {
	return c.Props.Get(string(name))
}

func allProps(c *ical.Component, name PropertyName) []ical.Prop {
	return c.Props.Values(string(name))
}

// textOf returns the unescaped text of the first property named name, or ""
// when it is absent.
func textOf(c *ical.Component, name PropertyName) string {
	prop := getProp(c, name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

func setText(c *ical.Component, name PropertyName, text string) {
	prop := ical.NewProp(string(name))
	prop.SetText(text)
	c.Props.Set(prop)
}

func param(p *ical.Prop, name ParameterName) string {
	return p.Params.Get(string(name))
}

func setParam(p *ical.Prop, name ParameterName, value string) {
	p.Params.Set(string(name), value)
}

// PrependMailto turns an email address into a mailto URI.
func PrependMailto(mail string) string {
	return mailto + mail
}

// RemoveMailto strips a case-insensitive mailto: prefix.
func RemoveMailto(uri string) string {
	if len(uri) >= len(mailto) && strings.EqualFold(uri[:len(mailto)], mailto) {
		return uri[len(mailto):]
	}
	return uri
}
