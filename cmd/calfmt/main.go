// calfmt rewrites TRANSP and COLOR on events of a Nextcloud calendar
// according to title rules. One pass lists every object of the calendar,
// fetches it, applies the rules and writes changed objects back guarded by
// their ETag, so concurrent edits are never overwritten.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airflow2010/nextcloud-calendar-tools/config"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/clients/caldav"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/journal"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/rules"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/scheduler"
	"github.com/airflow2010/nextcloud-calendar-tools/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		baseURL       = flag.String("base-url", "", "DAV base URL, e.g. https://host/remote.php/dav/calendars/<user>/ (default: $BASE_URL)")
		calendarName  = flag.String("calendar", "", "calendar folder, e.g. outlook-1 (default: $CAL_NAME)")
		username      = flag.String("user", "", "Nextcloud username (default: $USER)")
		appPwd        = flag.String("app-pwd", "", "Nextcloud app password (default: $APP_PWD)")
		rulesPath     = flag.String("rules", "", "YAML rule file (default: $RULES_FILE or built-in rules)")
		journalPath   = flag.String("journal", "", "sqlite file to record run summaries (default: $JOURNAL_DB)")
		schedule      = flag.String("schedule", "", "cron spec to run periodically instead of once, e.g. '*/30 * * * *'")
		dryRun        = flag.Bool("dry-run", false, "simulate, write nothing")
		verbose       = flag.Bool("verbose", false, "more logs")
		debug         = flag.Bool("debug", false, "per-object trace logs")
		force         = flag.Bool("force", false, "write matched objects even when already correct")
		limit         = flag.Int("limit", 0, "max number of calendar objects to process")
		noNormalize   = flag.Bool("no-normalize-summary", false, "match raw summaries without stripping exporter junk")
		listCalendars = flag.Bool("list-calendars", false, "list the account's calendars and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *calendarName != "" {
		cfg.CalendarName = *calendarName
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *appPwd != "" {
		cfg.AppPassword = *appPwd
	}
	if *rulesPath != "" {
		cfg.RulesPath = *rulesPath
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}

	client := caldav.NewClient(cfg.BaseURL, cfg.Username, cfg.AppPassword)

	if *listCalendars {
		cals, err := client.DiscoverCalendars(context.Background())
		if err != nil {
			log.Fatalf("Failed to list calendars: %v", err)
		}
		for _, cal := range cals {
			fmt.Printf("%s\t%s\n", cal.Path, cal.DisplayName)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	set := rules.Default()
	if cfg.RulesPath != "" {
		set, err = rules.Load(cfg.RulesPath)
		if err != nil {
			log.Fatalf("Failed to load rules: %v", err)
		}
	}
	if *verbose {
		log.Printf("Using %d rules", set.Len())
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer j.Close()
	}

	formatter := service.NewFormatter(client, set, client.CalendarPath(cfg.CalendarName), service.Options{
		DryRun:           *dryRun,
		Verbose:          *verbose,
		Debug:            *debug,
		Force:            *force,
		Limit:            *limit,
		NormalizeSummary: !*noNormalize,
	})

	runOnce := func(ctx context.Context) error {
		started := time.Now()
		summary, err := formatter.Run(ctx)
		if err != nil {
			return err
		}
		log.Println(summary)

		if j != nil {
			entry := &journal.Entry{
				StartedAt:  started,
				FinishedAt: time.Now(),
				Checked:    summary.Checked,
				Matched:    summary.Matched,
				Updated:    summary.Updated,
				AlreadyOK:  summary.AlreadyOK,
				FailedPut:  summary.FailedPut,
				DryRun:     *dryRun,
			}
			if err := j.Record(entry); err != nil {
				log.Printf("Failed to record run: %v", err)
			}
		}
		return nil
	}

	if *schedule == "" {
		// One-shot. Individual object failures are in the summary and do
		// not fail the process; only enumeration failure does.
		if err := runOnce(context.Background()); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(cfg.Timezone)
	go func() {
		if err := sched.Start(ctx, *schedule, func() {
			if err := runOnce(ctx); err != nil {
				log.Printf("Run failed: %v", err)
			}
		}); err != nil {
			log.Printf("Scheduler error: %v", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
}
