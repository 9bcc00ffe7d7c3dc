package cities

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// WasteCalendar is the waste-management calendar of one area.
type WasteCalendar struct {
	Street                string                 `json:"street"`
	GarbageCollectionDays []GarbageCollectionDay `json:"garbageCollectionDays"`
}

// GarbageCollectionDay is one collection date. The API has shipped
// garbageTypeSettings both as a single object and as a list, so the field is
// decoded lazily.
type GarbageCollectionDay struct {
	Date                string          `json:"date"`
	Name                string          `json:"name"`
	GarbageTypeSettings json.RawMessage `json:"garbageTypeSettings"`
}

type garbageTypeSettings struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	GarbageType string `json:"garbageType"`
}

func (s garbageTypeSettings) label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Name != "" {
		return s.Name
	}
	return s.GarbageType
}

// TypeNames returns the waste type names announced for this day, coping with
// both encodings of garbageTypeSettings. Falls back to the day's own name.
func (d GarbageCollectionDay) TypeNames() []string {
	var names []string

	if len(d.GarbageTypeSettings) > 0 {
		var one garbageTypeSettings
		if err := json.Unmarshal(d.GarbageTypeSettings, &one); err == nil {
			if n := one.label(); n != "" {
				names = append(names, n)
			}
		} else {
			var many []garbageTypeSettings
			if err := json.Unmarshal(d.GarbageTypeSettings, &many); err == nil {
				for _, s := range many {
					if n := s.label(); n != "" {
						names = append(names, n)
					}
				}
			}
		}
	}

	if len(names) == 0 && d.Name != "" {
		names = append(names, d.Name)
	}
	return names
}

// Collection is one normalized waste collection appointment.
type Collection struct {
	Date     time.Time
	Fraction string
	Street   string
}

// NormalizeFraction maps the API's spelling variants onto canonical fraction
// names.
func NormalizeFraction(name string) string {
	s := strings.TrimSpace(name)
	low := strings.ToLower(s)
	switch {
	case low == "altpapier" || low == "papier":
		return "Papier"
	case strings.HasPrefix(low, "restmüll"):
		return "Restmüll"
	case strings.HasPrefix(low, "gelber sack") || strings.HasPrefix(low, "gelbsack"):
		return "Gelber Sack"
	}
	return s
}

// Collections flattens a waste calendar into normalized appointments,
// filtered to the wanted fractions (empty = all), deduplicated per
// (date, fraction) and sorted by date.
func (c *WasteCalendar) Collections(wanted []string) []Collection {
	wantedSet := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		wantedSet[strings.ToLower(w)] = true
	}

	seen := make(map[string]Collection)
	for _, day := range c.GarbageCollectionDays {
		date, err := parseISODate(day.Date)
		if err != nil {
			continue
		}
		for _, name := range day.TypeNames() {
			frac := NormalizeFraction(name)
			if frac == "" {
				continue
			}
			if len(wantedSet) > 0 && !wantedSet[strings.ToLower(frac)] {
				continue
			}
			key := date.Format("2006-01-02") + "|" + strings.ToLower(frac)
			seen[key] = Collection{Date: date, Fraction: frac, Street: c.Street}
		}
	}

	out := make([]Collection, 0, len(seen))
	for _, col := range seen {
		out = append(out, col)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Fraction < out[j].Fraction
	})
	return out
}

func parseISODate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", truncate(s, 10))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Event is one entry of the public events feed.
type Event struct {
	ID               string          `json:"_id"`
	Name             string          `json:"name"`
	StartsAt         string          `json:"startsAt"`
	StartsAtDate     string          `json:"startsAtDate"`
	HasStartTime     *bool           `json:"hasStartTime"`
	EndsAt           string          `json:"endsAt"`
	EndsAtDate       string          `json:"endsAtDate"`
	HasEndTime       bool            `json:"hasEndTime"`
	PlainDescription string          `json:"plainDescription"`
	Description      json.RawMessage `json:"description"`
	LocationDetails  string          `json:"locationDetails"`
	MeetupURL        string          `json:"meetupUrl"`
	Location         *Labeled        `json:"location"`
	Page             *EventPage      `json:"page"`
}

// Labeled is an address-like object carrying only a display label.
type Labeled struct {
	Label string `json:"label"`
}

// EventPage is the organizer page an event belongs to.
type EventPage struct {
	Address *Labeled `json:"address"`
}

// Timed reports whether the event has a real start time; the feed omits the
// flag for timed events.
func (e *Event) Timed() bool {
	return e.HasStartTime == nil || *e.HasStartTime
}

// Start returns the raw start string, preferring the variant the flags point
// at.
func (e *Event) Start() string {
	if e.Timed() {
		if e.StartsAt != "" {
			return e.StartsAt
		}
		return e.StartsAtDate
	}
	if e.StartsAtDate != "" {
		return e.StartsAtDate
	}
	return e.StartsAt
}

// End returns the raw end string, or "" if the event has no end.
func (e *Event) End() string {
	if e.HasEndTime {
		if e.EndsAt != "" {
			return e.EndsAt
		}
		return e.EndsAtDate
	}
	if e.EndsAtDate != "" {
		return e.EndsAtDate
	}
	return e.EndsAt
}

// PlainText returns a plain-text description: either the feed's own
// plainDescription or the rich-text document flattened to text.
func (e *Event) PlainText() string {
	if e.PlainDescription != "" {
		return e.PlainDescription
	}
	if len(e.Description) == 0 {
		return ""
	}

	var doc richTextNode
	if err := json.Unmarshal(e.Description, &doc); err != nil {
		return ""
	}

	var sb strings.Builder
	doc.walk(&sb)
	return strings.TrimSpace(sb.String())
}

// richTextNode is the tiptap-style document tree used by the events feed.
type richTextNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Content []richTextNode `json:"content"`
}

func (n *richTextNode) walk(sb *strings.Builder) {
	if n.Type == "text" {
		sb.WriteString(n.Text)
	}
	for i := range n.Content {
		n.Content[i].walk(sb)
	}
	if n.Type == "paragraph" {
		sb.WriteString("\n")
	}
}

// ParseTime parses the feed's ISO timestamps ("Z" suffixed or offset).
func ParseTime(s string) (time.Time, error) {
	return parseISODate(s)
}
