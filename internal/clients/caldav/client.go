// Package caldav talks to a Nextcloud (or any CalDAV) server: it lists the
// object resources of one calendar collection, fetches single objects and
// writes them back guarded by an If-Match precondition.
package caldav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Client is a thin CalDAV client bound to one DAV base URL.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	client     *caldav.Client
}

// NewClient creates a client for baseURL, e.g.
// https://host/remote.php/dav/calendars/<user>/.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport: &basicAuthTransport{
				username: username,
				password: password,
			},
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured returns true if the client has credentials.
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes the underlying WebDAV client once.
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	client, err := caldav.NewClient(c.httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// CalendarPath builds the collection path for a calendar folder name below
// the base URL, mirroring how Nextcloud lays out per-user calendars.
func (c *Client) CalendarPath(name string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "/" + strings.Trim(name, "/") + "/"
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + strings.Trim(name, "/") + "/"
}

// DiscoverCalendars returns all calendar collections of the current user.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, &TransportError{Op: "find principal", Err: err}
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, &TransportError{Op: "find home set", Err: err}
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, &TransportError{Op: "find calendars", Err: err}
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
		})
	}

	return result, nil
}

// ListObjects enumerates all event resources in the calendar collection and
// returns their hrefs with the ETags observed by the server. Failure here is
// fatal for a formatter run.
func (c *Client) ListObjects(ctx context.Context, calendarPath string) ([]ObjectRef, error) {
	client, err := c.connect()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT"}},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, &TransportError{Op: "list objects", Err: err}
	}

	refs := make([]ObjectRef, 0, len(objects))
	for _, obj := range objects {
		refs = append(refs, ObjectRef{
			Href: obj.Path,
			ETag: strings.Trim(obj.ETag, `"`),
		})
	}

	return refs, nil
}

// GetObject fetches one calendar object and returns its parsed payload and
// the fresh ETag. A failure affects only this object, not the run.
func (c *Client) GetObject(ctx context.Context, href string) (*ical.Calendar, string, error) {
	client, err := c.connect()
	if err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}

	obj, err := client.GetCalendarObject(ctx, href)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", href, err)
	}
	if obj.Data == nil {
		return nil, "", fmt.Errorf("get %s: empty calendar data", href)
	}

	return obj.Data, strings.Trim(obj.ETag, `"`), nil
}

// PutObjectIfMatch replaces the object at href, but only if the resource
// still carries the given ETag. Returns ErrPreconditionFailed if the server
// answers 412, i.e. the object changed since it was read.
//
// The go-webdav client offers no way to attach preconditions to a PUT, so
// the request is issued directly.
func (c *Client) PutObjectIfMatch(ctx context.Context, href string, cal *ical.Calendar, etag string) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encode %s: %w", href, err)
	}

	target, err := c.absoluteURL(href)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", href, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("build PUT %s: %w", href, err)
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	if etag != "" {
		req.Header.Set("If-Match", `"`+etag+`"`)
	} else {
		req.Header.Set("If-Match", "*")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", href, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusPreconditionFailed:
		return fmt.Errorf("PUT %s: %w", href, ErrPreconditionFailed)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("PUT %s: status %d: %s", href, resp.StatusCode, string(body))
	}
}

// absoluteURL resolves a server href against the origin of the base URL.
// Hrefs from PROPFIND responses are usually absolute paths; resolving them
// against the full base URL would duplicate path segments.
func (c *Client) absoluteURL(href string) (string, error) {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(&url.URL{Path: ref.Path}).String(), nil
}
