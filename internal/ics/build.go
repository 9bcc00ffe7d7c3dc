// Package ics builds the iCalendar files emitted by the extraction tools.
package ics

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/cities"
)

const prodID = "-//https://github.com/airflow2010/nextcloud-calendar-tools//EN"

// WasteColors maps waste fractions onto calendar colors.
var WasteColors = map[string]string{
	"Restmüll":    "dimgrey",
	"Papier":      "floralwhite",
	"Gelber Sack": "gold",
	"Biomüll":     "saddlebrown",
}

// DefaultWasteColor is used for fractions without an entry in WasteColors.
const DefaultWasteColor = "black"

// DefaultEventColor is the color applied to extracted business events.
const DefaultEventColor = "darkgoldenrod"

// NewCalendar returns a calendar skeleton with the standard properties set.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	return cal
}

// BuildWasteCalendar turns collection appointments into all-day events with
// per-fraction colors, stable UIDs and a reminder alarm the evening before
// (6 hours before the day starts, i.e. 18:00).
func BuildWasteCalendar(collections []cities.Collection) *ical.Calendar {
	cal := NewCalendar()
	now := time.Now().UTC()

	for _, col := range collections {
		day := col.Date

		vevent := ical.NewEvent()
		// UID derived from date and fraction so re-running the export
		// keeps events stable for importing calendars.
		uid := fmt.Sprintf("%s-%s@waste.script",
			day.Format("20060102"), strings.ReplaceAll(col.Fraction, " ", "-"))
		vevent.Props.SetText(ical.PropUID, uid)
		vevent.Props.SetText(ical.PropSummary, col.Fraction)
		vevent.Props.SetDate(ical.PropDateTimeStart, day)
		vevent.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)

		color, ok := WasteColors[col.Fraction]
		if !ok {
			color = DefaultWasteColor
		}
		vevent.Props.SetText(ical.PropColor, color)

		vevent.Children = append(vevent.Children, reminderAlarm("Müll rausstellen: "+col.Fraction))
		cal.Children = append(cal.Children, vevent.Component)
	}

	return cal
}

// reminderAlarm builds a display alarm 6 hours before the event start.
func reminderAlarm(description string) *ical.Component {
	alarm := &ical.Component{
		Name:  "VALARM",
		Props: make(ical.Props),
	}
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, description)
	alarm.Props.SetText(ical.PropTrigger, "-PT6H")
	return alarm
}

// BuildEventCalendar turns events from the public feed into calendar
// entries. Returns the calendar and the number of events included; events
// without a usable start are skipped.
func BuildEventCalendar(events []cities.Event, color string) (*ical.Calendar, int) {
	if color == "" {
		color = DefaultEventColor
	}

	cal := NewCalendar()
	now := time.Now().UTC()
	count := 0

	for i := range events {
		ev := &events[i]

		start := ev.Start()
		if start == "" {
			continue
		}
		startTime, err := cities.ParseTime(start)
		if err != nil {
			continue
		}

		vevent := ical.NewEvent()
		summary := ev.Name
		if summary == "" {
			summary = "Termin"
		}
		vevent.Props.SetText(ical.PropSummary, summary)

		if ev.Timed() {
			vevent.Props.SetDateTime(ical.PropDateTimeStart, startTime.UTC())
			if end := ev.End(); end != "" {
				if endTime, err := cities.ParseTime(end); err == nil {
					vevent.Props.SetDateTime(ical.PropDateTimeEnd, endTime.UTC())
				}
			}
		} else {
			vevent.Props.SetDate(ical.PropDateTimeStart, startTime)
			endDay := startTime.AddDate(0, 0, 1)
			if end := ev.End(); end != "" {
				if endTime, err := cities.ParseTime(end); err == nil {
					endDay = endTime
				}
			}
			vevent.Props.SetDate(ical.PropDateTimeEnd, endDay)
		}

		if desc := eventDescription(ev); desc != "" {
			vevent.Props.SetText(ical.PropDescription, desc)
		}
		if loc := eventLocation(ev); loc != "" {
			vevent.Props.SetText(ical.PropLocation, loc)
		}

		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		vevent.Props.SetText(ical.PropUID, id+"@heurigen.script")
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)
		vevent.Props.SetText(ical.PropColor, color)

		cal.Children = append(cal.Children, vevent.Component)
		count++
	}

	return cal, count
}

// eventDescription joins description text, location details and the meetup
// link into one description block.
func eventDescription(ev *cities.Event) string {
	var parts []string
	if text := strings.TrimSpace(ev.PlainText()); text != "" {
		parts = append(parts, text)
	}
	if details := strings.TrimSpace(ev.LocationDetails); details != "" {
		parts = append(parts, details)
	}
	if ev.MeetupURL != "" {
		parts = append(parts, "Weitere Infos: "+ev.MeetupURL)
	}
	return strings.Join(parts, "\n\n")
}

// eventLocation picks the event's own location label, falling back to the
// organizer page's address.
func eventLocation(ev *cities.Event) string {
	var label string
	if ev.Location != nil {
		label = ev.Location.Label
	}
	if label == "" && ev.Page != nil && ev.Page.Address != nil {
		label = ev.Page.Address.Label
	}
	if strings.Trim(label, ", ") == "" {
		return ""
	}
	return label
}

// WriteFile serializes the calendar to path.
func WriteFile(cal *ical.Calendar, path string) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
