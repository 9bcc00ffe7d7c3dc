// wastecal exports the municipality's waste collection dates as an ICS file
// with per-fraction colors and an evening-before reminder. It normally uses
// the citiesapps JSON API; --dom scrapes the public page with a headless
// browser instead.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/cities"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/ics"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/scrape"
)

const (
	defaultAreaID  = "6761584e36764e06d7104231" // Institutsgasse
	defaultPageURL = "https://bad-fischau-brunn.at/waste-management/areas"
)

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		areaID  = flag.String("area", defaultAreaID, "waste-management area id")
		types   = flag.String("types", "", "comma-separated fractions to include, empty = all (e.g. 'Restmüll,Papier,Gelber Sack')")
		out     = flag.String("out", "muelltermine.ics", "output ICS file")
		pageURL = flag.String("page-url", defaultPageURL, "municipality page used for the build-version handshake")
		useDOM  = flag.Bool("dom", false, "scrape the page with a headless browser instead of the JSON API")
		street  = flag.String("street", "Institutsgasse", "street entry to open (only with -dom)")
		timeout = flag.Duration("timeout", 60*time.Second, "overall timeout")
	)
	flag.Parse()

	var wanted []string
	if *types != "" {
		for _, t := range strings.Split(*types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				wanted = append(wanted, cities.NormalizeFraction(t))
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var collections []cities.Collection
	var err error

	if *useDOM {
		fractions := wanted
		if len(fractions) == 0 {
			fractions = []string{"Restmüll", "Papier", "Altpapier", "Gelber Sack", "Biomüll"}
		}
		collections, err = scrape.WasteCollections(ctx, scrape.Options{
			URL:       *pageURL,
			Street:    *street,
			Fractions: fractions,
			Timeout:   *timeout,
		})
		if err != nil {
			log.Fatalf("DOM scrape failed: %v", err)
		}
	} else {
		client := cities.NewClient(*pageURL)
		cal, ferr := client.WasteCalendar(ctx, *areaID)
		if ferr != nil {
			log.Fatalf("Failed to fetch waste calendar: %v", ferr)
		}
		log.Printf("Calendar for %s", cal.Street)
		collections = cal.Collections(wanted)
	}

	if len(collections) == 0 {
		log.Fatalf("No collection dates found")
	}

	for _, col := range collections {
		log.Printf("%s: %s", col.Date.Format("02.01.2006 (Monday)"), col.Fraction)
	}

	cal := ics.BuildWasteCalendar(collections)
	if err := ics.WriteFile(cal, *out); err != nil {
		log.Fatalf("Failed to write ICS: %v", err)
	}
	log.Printf("Wrote %s with %d dates", *out, len(collections))
}
