// Package service contains the formatter pass that walks a CalDAV calendar
// collection and rewrites TRANSP/COLOR on events according to the rule set.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/emersion/go-ical"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/caldav"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/rules"
)

// CalendarClient is the slice of the CalDAV client the formatter needs.
type CalendarClient interface {
	ListObjects(ctx context.Context, calendarPath string) ([]caldav.ObjectRef, error)
	GetObject(ctx context.Context, href string) (*ical.Calendar, string, error)
	PutObjectIfMatch(ctx context.Context, href string, cal *ical.Calendar, etag string) error
}

// Options control a formatter run.
type Options struct {
	DryRun           bool
	Verbose          bool
	Debug            bool
	Force            bool // write matched objects even when nothing changed
	Limit            int  // max objects to process, 0 = all
	NormalizeSummary bool // strip broken exporter suffixes before matching
}

// RunSummary holds the counters of one formatter run. Counters only grow
// while the run is in progress; the summary is emitted once at the end.
type RunSummary struct {
	Checked   int // objects that entered processing
	Matched   int // objects where at least one event hit a rule
	Updated   int // objects written back (or would-be writes in dry-run)
	AlreadyOK int // matched objects whose state was already correct
	FailedPut int // objects lost to fetch errors, decode errors or rejected writes
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("Done. Checked=%d matched_files=%d updated=%d already_ok=%d failed_put=%d",
		s.Checked, s.Matched, s.Updated, s.AlreadyOK, s.FailedPut)
}

// Formatter runs one synchronous pass over a calendar collection. It holds
// no state between runs; the server is the only source of truth.
type Formatter struct {
	client       CalendarClient
	rules        *rules.Set
	calendarPath string
	opts         Options
}

// NewFormatter creates a formatter for one calendar collection.
func NewFormatter(client CalendarClient, set *rules.Set, calendarPath string, opts Options) *Formatter {
	return &Formatter{
		client:       client,
		rules:        set,
		calendarPath: calendarPath,
		opts:         opts,
	}
}

// Run enumerates the collection and processes every object in enumeration
// order. Enumeration failure is fatal and returned as-is (the caller checks
// for *caldav.TransportError); any per-object failure only increments
// FailedPut. The returned summary is complete even if some objects failed.
func (f *Formatter) Run(ctx context.Context) (*RunSummary, error) {
	refs, err := f.client.ListObjects(ctx, f.calendarPath)
	if err != nil {
		return nil, err
	}

	log.Printf("Found %d calendar objects in %s", len(refs), f.calendarPath)
	if f.opts.Debug {
		for i, ref := range refs {
			if i >= 5 {
				break
			}
			f.debugf("HREF: %s (ETag=%s)", ref.Href, ref.ETag)
		}
	}

	if f.opts.Limit > 0 && len(refs) > f.opts.Limit {
		refs = refs[:f.opts.Limit]
	}

	summary := &RunSummary{}
	for _, ref := range refs {
		f.processObject(ctx, ref, summary)
	}

	return summary, nil
}

// processObject runs one object through fetch -> classify -> write. Errors
// never escape; they end up in the counters.
func (f *Formatter) processObject(ctx context.Context, ref caldav.ObjectRef, summary *RunSummary) {
	summary.Checked++

	cal, etag, err := f.client.GetObject(ctx, ref.Href)
	if err != nil {
		summary.FailedPut++
		f.verbosef("skip %s: %v", ref.Href, err)
		return
	}
	if etag == "" {
		// Some servers omit the ETag header on GET; fall back to the one
		// seen during enumeration.
		etag = ref.ETag
	}

	matched, changed := f.applyRules(cal)
	if !matched {
		return
	}
	summary.Matched++

	if !changed && !f.opts.Force {
		summary.AlreadyOK++
		f.debugf("already ok: %s", ref.Href)
		return
	}

	if f.opts.DryRun {
		summary.Updated++
		f.debugf("DRY-RUN: PUT %s", ref.Href)
		return
	}

	err = f.client.PutObjectIfMatch(ctx, ref.Href, cal, etag)
	switch {
	case err == nil:
		summary.Updated++
		f.debugf("updated %s (ETag was %s)", ref.Href, etag)
	case errors.Is(err, caldav.ErrPreconditionFailed):
		// The object changed between read and write. Overwriting now would
		// discard a concurrent edit, so the object is surfaced instead.
		summary.FailedPut++
		f.verbosef("etag mismatch (412) on %s, object changed since read", ref.Href)
	default:
		summary.FailedPut++
		f.verbosef("PUT failed for %s: %v", ref.Href, err)
	}
}

// applyRules evaluates every VEVENT in the payload against the rule set and
// rewrites TRANSP/COLOR in place where the first matching rule demands a
// different state. All other properties stay untouched.
func (f *Formatter) applyRules(cal *ical.Calendar) (matched, changed bool) {
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		prop := comp.Props.Get(ical.PropSummary)
		if prop == nil {
			continue
		}
		title := prop.Value
		if f.opts.NormalizeSummary {
			title = rules.NormalizeSummary(title)
		}

		state, ok := f.rules.Classify(title)
		if !ok {
			continue
		}
		matched = true

		desired := state.Transparency()
		if propValue(comp, ical.PropTransparency) != desired {
			comp.Props.SetText(ical.PropTransparency, desired)
			changed = true
		}

		if state.Color != "" && propValue(comp, ical.PropColor) != state.Color {
			comp.Props.SetText(ical.PropColor, state.Color)
			changed = true
		}
	}
	return matched, changed
}

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func (f *Formatter) verbosef(format string, args ...any) {
	if f.opts.Verbose || f.opts.Debug {
		log.Printf(format, args...)
	}
}

func (f *Formatter) debugf(format string, args ...any) {
	if f.opts.Debug {
		log.Printf("[DBG] "+format, args...)
	}
}
