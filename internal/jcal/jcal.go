// Package jcal converts between go-ical components and their jCal (RFC 7265)
// JSON form, which is what the calendar gateway speaks.
package jcal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
)

var ErrInvalid = errors.New("jcal: invalid document")

const (
	typeText       = "text"
	typeDate       = "date"
	typeDateTime   = "date-time"
	typeCalAddress = "cal-address"
	typeURI        = "uri"
	typeInteger    = "integer"
	typeBoolean    = "boolean"
	typeUnknown    = "unknown"
)

var defaultTypes = map[string]string{
	"DTSTART":          typeDateTime,
	"DTEND":            typeDateTime,
	"DTSTAMP":          typeDateTime,
	"DUE":              typeDateTime,
	"CREATED":          typeDateTime,
	"LAST-MODIFIED":    typeDateTime,
	"COMPLETED":        typeDateTime,
	"RECURRENCE-ID":    typeDateTime,
	"EXDATE":           typeDateTime,
	"RDATE":            typeDateTime,
	"ATTENDEE":         typeCalAddress,
	"ORGANIZER":        typeCalAddress,
	"URL":              typeURI,
	"TZURL":            typeURI,
	"SEQUENCE":         typeInteger,
	"PRIORITY":         typeInteger,
	"PERCENT-COMPLETE": typeInteger,
	"REPEAT":           typeInteger,
	"RRULE":            typeUnknown,
	"GEO":              typeUnknown,
	"DURATION":         typeUnknown,
	"TRIGGER":          typeUnknown,
}

func defaultType(name string) string {
	if t, ok := defaultTypes[name]; ok {
		return t
	}
	return typeText
}

// Marshal encodes cal as a jCal document.
func Marshal(cal *ical.Calendar) ([]byte, error) {
	if cal == nil || cal.Component == nil {
		return nil, fmt.Errorf("%w: nil calendar", ErrInvalid)
	}
	return json.Marshal(ToValue(cal.Component))
}

// Unmarshal decodes a jCal document holding a VCALENDAR.
func Unmarshal(data []byte) (*ical.Calendar, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromValue(v)
}

// FromValue converts an already decoded JSON value into a calendar.
func FromValue(v any) (*ical.Calendar, error) {
	comp, err := parseComponent(v)
	if err != nil {
		return nil, err
	}
	if comp.Name != ical.CompCalendar {
		return nil, fmt.Errorf("%w: expected vcalendar, got %s", ErrInvalid, strings.ToLower(comp.Name))
	}
	return &ical.Calendar{Component: comp}, nil
}

// ToValue returns the jCal array for c, ready for json.Marshal.
func ToValue(c *ical.Component) []any {
	names := make([]string, 0, len(c.Props))
	for name := range c.Props {
		names = append(names, name)
	}
	sort.Strings(names)

	props := []any{}
	for _, name := range names {
		for _, p := range c.Props[name] {
			props = append(props, propValue(&p))
		}
	}

	children := []any{}
	for _, child := range c.Children {
		children = append(children, ToValue(child))
	}
	return []any{strings.ToLower(c.Name), props, children}
}

func valueType(p *ical.Prop) string {
	if v := p.Params.Get("VALUE"); v != "" {
		return strings.ToLower(v)
	}
	t := defaultType(p.Name)
	if t == typeDateTime && len(p.Value) == len("20060102") {
		return typeDate
	}
	return t
}

func propValue(p *ical.Prop) []any {
	params := map[string]any{}
	for key, values := range p.Params {
		if key == "VALUE" || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			params[strings.ToLower(key)] = values[0]
		} else {
			params[strings.ToLower(key)] = values
		}
	}

	t := valueType(p)
	var value any
	switch t {
	case typeDate:
		value = toJSONDate(p.Value)
	case typeDateTime:
		value = toJSONDateTime(p.Value)
	case typeText:
		value = unescapeText(p.Value)
	case typeInteger:
		if _, err := strconv.Atoi(p.Value); err == nil {
			value = json.Number(p.Value)
		} else {
			value = p.Value
		}
	case typeBoolean:
		value = strings.EqualFold(p.Value, "TRUE")
	default:
		value = p.Value
	}
	return []any{strings.ToLower(p.Name), params, t, value}
}

func parseComponent(v any) (*ical.Component, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("%w: component must be a 3-element array", ErrInvalid)
	}
	name, ok := arr[0].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: component name must be a string", ErrInvalid)
	}
	props, ok := arr[1].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s properties must be an array", ErrInvalid, name)
	}
	children, ok := arr[2].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s components must be an array", ErrInvalid, name)
	}

	comp := ical.NewComponent(strings.ToUpper(name))
	for _, raw := range props {
		p, err := parseProp(raw)
		if err != nil {
			return nil, err
		}
		comp.Props.Add(p)
	}
	for _, raw := range children {
		child, err := parseComponent(raw)
		if err != nil {
			return nil, err
		}
		comp.Children = append(comp.Children, child)
	}
	return comp, nil
}

func parseProp(v any) (*ical.Prop, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 4 {
		return nil, fmt.Errorf("%w: property must have name, parameters, type and value", ErrInvalid)
	}
	name, ok := arr[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: property name must be a string", ErrInvalid)
	}
	params, ok := arr[1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s parameters must be an object", ErrInvalid, name)
	}
	t, ok := arr[2].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s type must be a string", ErrInvalid, name)
	}

	p := ical.NewProp(strings.ToUpper(name))
	for key, raw := range params {
		switch pv := raw.(type) {
		case string:
			p.Params.Set(strings.ToUpper(key), pv)
		case []any:
			for _, item := range pv {
				p.Params.Add(strings.ToUpper(key), fmt.Sprint(item))
			}
		default:
			p.Params.Set(strings.ToUpper(key), fmt.Sprint(pv))
		}
	}

	t = strings.ToLower(t)
	if t != defaultType(p.Name) && t != typeUnknown {
		p.Params.Set("VALUE", strings.ToUpper(t))
	}

	values := make([]string, 0, len(arr)-3)
	for _, raw := range arr[3:] {
		values = append(values, scalar(t, raw))
	}
	p.Value = strings.Join(values, ",")
	return p, nil
}

func scalar(t string, raw any) string {
	switch t {
	case typeDate, typeDateTime:
		s, _ := raw.(string)
		return strings.NewReplacer("-", "", ":", "").Replace(s)
	case typeText:
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprint(raw)
		}
		return escapeText(s)
	case typeBoolean:
		if b, ok := raw.(bool); ok && b {
			return "TRUE"
		}
		return "FALSE"
	default:
		if s, ok := raw.(string); ok {
			return s
		}
		return fmt.Sprint(raw)
	}
}

// 20240312 -> 2024-03-12
func toJSONDate(v string) string {
	if len(v) != 8 {
		return v
	}
	return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
}

// 20240312T090000Z -> 2024-03-12T09:00:00Z
func toJSONDateTime(v string) string {
	if len(v) < 15 || v[8] != 'T' {
		return v
	}
	return toJSONDate(v[:8]) + "T" + v[9:11] + ":" + v[11:13] + ":" + v[13:15] + v[15:]
}

var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, ";", `\,`, ",", `\n`, "\n", `\N`, "\n")
)

func escapeText(s string) string   { return textEscaper.Replace(s) }
func unescapeText(s string) string { return textUnescaper.Replace(s) }
