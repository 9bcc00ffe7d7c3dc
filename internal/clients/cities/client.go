// Package cities talks to the citiesapps.com API that backs the
// municipality's website: the waste-management calendar and the public
// events feed. The API only answers requests that carry the site's current
// build-version header, so every client resolves it first via a HEAD
// request against the public page.
package cities

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	BaseURL = "https://api.v2.citiesapps.com"

	buildVersionHeader = "build-version"
	userAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"
)

// Client is a citiesapps.com API client bound to one municipality page.
type Client struct {
	baseURL      string
	pageURL      string // public page used for the build-version handshake
	buildVersion string
	httpClient   *http.Client
}

// NewClient creates a client. pageURL is the municipality page the requests
// impersonate, e.g. https://bad-fischau-brunn.at/waste-management/areas.
func NewClient(pageURL string) *Client {
	return &Client{
		baseURL: BaseURL,
		pageURL: pageURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBaseURL overrides the API endpoint (used in tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// SetPageURL overrides the handshake page (used in tests).
func (c *Client) SetPageURL(u string) {
	c.pageURL = u
}

// resolveBuildVersion asks the public page for its current build-version
// header. The value is cached for the client's lifetime.
func (c *Client) resolveBuildVersion(ctx context.Context) (string, error) {
	if c.buildVersion != "" {
		return c.buildVersion, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build version request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch build version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch build version: status %d", resp.StatusCode)
	}

	version := resp.Header.Get(buildVersionHeader)
	if version == "" {
		return "", fmt.Errorf("page %s did not announce a %s header", c.pageURL, buildVersionHeader)
	}

	c.buildVersion = version
	return version, nil
}

// doRequest performs an authenticated-looking GET against the API.
func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	version, err := c.resolveBuildVersion(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	origin := originOf(c.pageURL)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("requesting-app", "website-builder")
	req.Header.Set(buildVersionHeader, version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	return body, nil
}

// WasteCalendar fetches the waste-management calendar for one area.
func (c *Client) WasteCalendar(ctx context.Context, areaID string) (*WasteCalendar, error) {
	data, err := c.doRequest(ctx, fmt.Sprintf("%s/waste-management/areas/%s/calendar", c.baseURL, areaID))
	if err != nil {
		return nil, err
	}

	var cal WasteCalendar
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("unmarshal waste calendar: %w", err)
	}

	return &cal, nil
}

// Events fetches all upcoming events for a scope (e.g. "page:<id>"),
// following the feed's nextUrl pagination until it runs dry.
func (c *Client) Events(ctx context.Context, scope string, pageSize int) ([]Event, error) {
	if pageSize <= 0 {
		pageSize = 50
	}

	params := url.Values{}
	params.Set("event-period", "upcoming")
	params.Set("scope", scope)
	params.Set("pagination", fmt.Sprintf("limit:%d", pageSize))
	next := c.baseURL + "/events?" + params.Encode()

	var events []Event
	for next != "" {
		data, err := c.doRequest(ctx, next)
		if err != nil {
			return nil, err
		}

		var page struct {
			Data    []Event `json:"data"`
			NextURL string  `json:"nextUrl"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("unmarshal events page: %w", err)
		}

		events = append(events, page.Data...)

		if page.NextURL == "" {
			break
		}
		next = c.baseURL + "/" + strings.TrimPrefix(page.NextURL, "/")
	}

	return events, nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
