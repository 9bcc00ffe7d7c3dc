// Package scrape extracts waste collection dates straight from the
// municipality website with a headless browser. It is the fallback for when
// the JSON API is unavailable; the page renders its schedule into a modal
// after clicking a street entry.
package scrape

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/cities"
)

var dateRe = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)

const defaultTimeout = 60 * time.Second

// Options for a DOM scrape.
type Options struct {
	// URL of the waste-management area page.
	URL string
	// Street entry to click, e.g. "Institutsgasse".
	Street string
	// Fractions to look for; empty matches nothing, so callers must pass
	// the list they care about (the modal text contains plenty of other
	// words).
	Fractions []string
	// Timeout bounds the whole browser session.
	Timeout time.Duration
}

// WasteCollections opens the page, clicks the street entry, waits for the
// schedule modal and pulls every date/fraction pair out of its text.
func WasteCollections(parentCtx context.Context, opts Options) ([]cities.Collection, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("scrape: URL is required")
	}
	if opts.Street == "" {
		return nil, fmt.Errorf("scrape: street is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	streetSel := fmt.Sprintf(`//*[contains(text(), %q)]`, opts.Street)

	var modalText string
	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(streetSel, chromedp.BySearch),
		chromedp.Click(streetSel, chromedp.BySearch),
		chromedp.WaitVisible(`[role="dialog"]`, chromedp.ByQuery),
		// Give the modal a moment to finish filling in.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Text(`[role="dialog"]`, &modalText, chromedp.ByQuery),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", opts.URL, err)
	}

	return parseModalText(modalText, opts.Street, opts.Fractions), nil
}

// parseModalText walks the modal line by line and collects every line that
// carries both a date and one of the wanted fraction names. Duplicate
// (date, fraction) pairs collapse.
func parseModalText(text, street string, fractions []string) []cities.Collection {
	seen := make(map[string]cities.Collection)

	for _, line := range strings.Split(text, "\n") {
		date, ok := parseGermanDate(line)
		if !ok {
			continue
		}
		fraction := matchFraction(line, fractions)
		if fraction == "" {
			continue
		}
		key := date.Format("2006-01-02") + "|" + strings.ToLower(fraction)
		seen[key] = cities.Collection{Date: date, Fraction: fraction, Street: street}
	}

	out := make([]cities.Collection, 0, len(seen))
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

// parseGermanDate finds the first dd.mm.yyyy date in a line.
func parseGermanDate(line string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2.1.2006", m[1]+"."+m[2]+"."+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// matchFraction returns the normalized fraction name contained in the line,
// or "".
func matchFraction(line string, fractions []string) string {
	low := strings.ToLower(line)
	for _, f := range fractions {
		if strings.Contains(low, strings.ToLower(f)) {
			return cities.NormalizeFraction(f)
		}
	}
	return ""
}
