package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/emersion/go-ical"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/caldav"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/rules"
)

// fakeCalendarClient simulates a CalDAV server: a map of href -> raw ICS
// plus per-object ETags. Writes bump the ETag; writes with a stale ETag are
// rejected the way a real server answers 412.
type fakeCalendarClient struct {
	objects map[string]string // href -> raw ICS
	etags   map[string]string
	puts    int
}

func newFakeCalendarClient() *fakeCalendarClient {
	return &fakeCalendarClient{
		objects: make(map[string]string),
		etags:   make(map[string]string),
	}
}

func (f *fakeCalendarClient) add(href, payload string) {
	f.objects[href] = payload
	f.etags[href] = "v1"
}

func (f *fakeCalendarClient) ListObjects(ctx context.Context, calendarPath string) ([]caldav.ObjectRef, error) {
	hrefs := make([]string, 0, len(f.objects))
	for href := range f.objects {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)

	refs := make([]caldav.ObjectRef, 0, len(hrefs))
	for _, href := range hrefs {
		refs = append(refs, caldav.ObjectRef{Href: href, ETag: f.etags[href]})
	}
	return refs, nil
}

func (f *fakeCalendarClient) GetObject(ctx context.Context, href string) (*ical.Calendar, string, error) {
	raw, ok := f.objects[href]
	if !ok {
		return nil, "", fmt.Errorf("get %s: not found", href)
	}
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", href, err)
	}
	return cal, f.etags[href], nil
}

func (f *fakeCalendarClient) PutObjectIfMatch(ctx context.Context, href string, cal *ical.Calendar, etag string) error {
	f.puts++
	if f.etags[href] != etag {
		return fmt.Errorf("PUT %s: %w", href, caldav.ErrPreconditionFailed)
	}
	var sb strings.Builder
	if err := ical.NewEncoder(&sb).Encode(cal); err != nil {
		return err
	}
	f.objects[href] = sb.String()
	f.etags[href] = etag + "'"
	return nil
}

// failingListClient simulates an enumeration failure.
type failingListClient struct {
	fakeCalendarClient
}

func (f *failingListClient) ListObjects(ctx context.Context, calendarPath string) ([]caldav.ObjectRef, error) {
	return nil, &caldav.TransportError{Op: "list objects", Err: fmt.Errorf("401 unauthorized")}
}

func icsObject(props ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:test-1",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240102T080000Z",
		"DTEND:20240102T160000Z",
	}
	lines = append(lines, props...)
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

func TestRunEndToEnd(t *testing.T) {
	client := newFakeCalendarClient()
	// One object hits the rule and needs a rewrite, one matches nothing,
	// one is already in the desired state.
	client.add("/cal/1.ics", icsObject("SUMMARY:Summer Holiday"))
	client.add("/cal/2.ics", icsObject("SUMMARY:Dentist"))
	client.add("/cal/3.ics", icsObject("SUMMARY:Winter Holiday", "TRANSP:TRANSPARENT", "COLOR:a"))

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := RunSummary{Checked: 3, Matched: 2, Updated: 1, AlreadyOK: 1, FailedPut: 0}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}

	updated := client.objects["/cal/1.ics"]
	if !strings.Contains(updated, "TRANSP:TRANSPARENT") {
		t.Errorf("updated object missing TRANSP:TRANSPARENT:\n%s", updated)
	}
	if !strings.Contains(updated, "COLOR:a") {
		t.Errorf("updated object missing COLOR:a:\n%s", updated)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	client := newFakeCalendarClient()
	client.add("/cal/1.ics", icsObject("SUMMARY:Summer Holiday"))
	client.add("/cal/2.ics", icsObject("SUMMARY:Holiday party", "TRANSP:OPAQUE"))

	set := mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}})
	f := NewFormatter(client, set, "/cal/", Options{})

	first, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Updated != 2 {
		t.Fatalf("first run updated = %d, want 2", first.Updated)
	}

	// The second run sees the already-updated payloads and must plan
	// nothing at all.
	second, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	want := RunSummary{Checked: 2, Matched: 2, Updated: 0, AlreadyOK: 2, FailedPut: 0}
	if *second != want {
		t.Errorf("second run = %+v, want %+v", *second, want)
	}
}

func TestRunPreservesUnrelatedProperties(t *testing.T) {
	client := newFakeCalendarClient()
	client.add("/cal/1.ics", icsObject(
		"SUMMARY:Holiday",
		"DESCRIPTION:bring sunscreen",
		"LOCATION:beach",
		"RRULE:FREQ=YEARLY",
	))

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{})
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	updated := client.objects["/cal/1.ics"]
	for _, prop := range []string{
		"SUMMARY:Holiday",
		"DESCRIPTION:bring sunscreen",
		"LOCATION:beach",
		"RRULE:FREQ=YEARLY",
		"DTSTART:20240102T080000Z",
		"DTEND:20240102T160000Z",
		"UID:test-1",
	} {
		if !strings.Contains(updated, prop) {
			t.Errorf("updated payload lost %q:\n%s", prop, updated)
		}
	}
}

func TestRunStaleETagIsNotOverwritten(t *testing.T) {
	client := newFakeCalendarClient()
	client.add("/cal/1.ics", icsObject("SUMMARY:Holiday"))

	f := NewFormatter(&staleClient{client}, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.FailedPut != 1 || summary.Updated != 0 {
		t.Errorf("summary = %+v, want failed_put=1 updated=0", *summary)
	}
	if !strings.Contains(client.objects["/cal/1.ics"], "SUMMARY:Holiday") {
		t.Error("object was overwritten despite stale etag")
	}
}

// staleClient hands out an outdated ETag on every GET, so every write is
// rejected like a concurrent edit happened in the fetch/write gap.
type staleClient struct {
	*fakeCalendarClient
}

func (s *staleClient) GetObject(ctx context.Context, href string) (*ical.Calendar, string, error) {
	cal, _, err := s.fakeCalendarClient.GetObject(ctx, href)
	return cal, "stale", err
}

func TestRunMalformedPayloadIsSkipped(t *testing.T) {
	client := newFakeCalendarClient()
	for i := 1; i <= 5; i++ {
		client.add(fmt.Sprintf("/cal/%d.ics", i), icsObject(fmt.Sprintf("SUMMARY:Holiday %d", i)))
	}
	client.objects["/cal/3.ics"] = "this is not an icalendar payload"

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run must complete despite a broken object: %v", err)
	}

	want := RunSummary{Checked: 5, Matched: 4, Updated: 4, AlreadyOK: 0, FailedPut: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	client := newFakeCalendarClient()
	client.add("/cal/1.ics", icsObject("SUMMARY:Holiday"))

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{DryRun: true})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Updated != 1 {
		t.Errorf("dry-run updated = %d, want 1", summary.Updated)
	}
	if client.puts != 0 {
		t.Errorf("dry-run issued %d PUTs", client.puts)
	}
	if strings.Contains(client.objects["/cal/1.ics"], "TRANSP") {
		t.Error("dry-run modified the server object")
	}
}

func TestRunForceWritesMatchedObjects(t *testing.T) {
	client := newFakeCalendarClient()
	client.add("/cal/1.ics", icsObject("SUMMARY:Holiday", "TRANSP:TRANSPARENT", "COLOR:a"))

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Holiday", Color: "a", Free: true}}), "/cal/", Options{Force: true})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Updated != 1 || summary.AlreadyOK != 0 {
		t.Errorf("summary = %+v, want updated=1 already_ok=0", *summary)
	}
	if client.puts != 1 {
		t.Errorf("force issued %d PUTs, want 1", client.puts)
	}
}

func TestRunLimitTruncatesEnumeration(t *testing.T) {
	client := newFakeCalendarClient()
	for i := 1; i <= 4; i++ {
		client.add(fmt.Sprintf("/cal/%d.ics", i), icsObject(fmt.Sprintf("SUMMARY:Event %d", i)))
	}

	f := NewFormatter(client, mustCompile(t, []rules.Rule{{Pattern: "Event", Color: "a", Free: false}}), "/cal/", Options{Limit: 2})
	summary, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Checked != 2 {
		t.Errorf("checked = %d, want 2", summary.Checked)
	}
}

func TestRunEnumerationFailureIsFatal(t *testing.T) {
	f := NewFormatter(&failingListClient{}, rules.Default(), "/cal/", Options{})
	_, err := f.Run(context.Background())
	if err == nil {
		t.Fatal("expected enumeration failure to abort the run")
	}
	var te *caldav.TransportError
	if !errors.As(err, &te) {
		t.Errorf("error %v is not a TransportError", err)
	}
}

func mustCompile(t *testing.T, rs []rules.Rule) *rules.Set {
	t.Helper()
	set, err := rules.Compile(rs)
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	return set
}
