// heurigencal exports the municipality's Heurigen calendar (the public
// events feed of one organizer page) as an ICS file.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/cities"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/ics"
)

const (
	defaultScope   = "page:66c703b250d3917f19d8fae0"
	defaultPageURL = "https://bad-fischau-brunn.at/wirtschaft/heurigenkalender"
)

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		scope    = flag.String("scope", defaultScope, "events feed scope")
		out      = flag.String("out", "heurigen.ics", "output ICS file")
		pageURL  = flag.String("page-url", defaultPageURL, "municipality page used for the build-version handshake")
		pageSize = flag.Int("page-size", 50, "events per API page")
		color    = flag.String("color", ics.DefaultEventColor, "COLOR property for the exported events")
		timeout  = flag.Duration("timeout", 60*time.Second, "overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := cities.NewClient(*pageURL)
	events, err := client.Events(ctx, *scope, *pageSize)
	if err != nil {
		log.Fatalf("Failed to fetch events: %v", err)
	}
	log.Printf("Fetched %d events", len(events))

	for i := range events {
		ev := &events[i]
		start := ev.Start()
		if t, err := cities.ParseTime(start); err == nil {
			if ev.Timed() {
				start = t.Format("02.01.2006 15:04")
			} else {
				start = t.Format("02.01.2006")
			}
		}
		log.Printf("%s: %s", start, ev.Name)
	}

	cal, count := ics.BuildEventCalendar(events, *color)
	if count == 0 {
		log.Fatalf("No exportable events found")
	}
	if err := ics.WriteFile(cal, *out); err != nil {
		log.Fatalf("Failed to write ICS: %v", err)
	}
	log.Printf("Wrote %s with %d events", *out, count)
}
