package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL      string // e.g. https://host/remote.php/dav/calendars/<user>/
	CalendarName string // calendar collection folder, e.g. outlook-1
	Username     string
	AppPassword  string // Nextcloud app password
	Timezone     *time.Location
	RulesPath    string // optional YAML rule file
	JournalPath  string // optional sqlite run journal
}

func Load() (*Config, error) {
	// .env is optional; real env vars win over the file.
	_ = godotenv.Load()

	baseURL := os.Getenv("BASE_URL")
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	tzName := os.Getenv("TIMEZONE")
	if tzName == "" {
		tzName = "Europe/Vienna"
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	return &Config{
		BaseURL:      baseURL,
		CalendarName: os.Getenv("CAL_NAME"),
		Username:     os.Getenv("USER"),
		AppPassword:  os.Getenv("APP_PWD"),
		Timezone:     tz,
		RulesPath:    os.Getenv("RULES_FILE"),
		JournalPath:  os.Getenv("JOURNAL_DB"),
	}, nil
}

// Validate checks that everything the CalDAV formatter needs is present.
// The extraction tools don't require any of these.
func (c *Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.CalendarName == "" {
		missing = append(missing, "CAL_NAME")
	}
	if c.Username == "" {
		missing = append(missing, "USER")
	}
	if c.AppPassword == "" {
		missing = append(missing, "APP_PWD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s (set via .env or flags)", strings.Join(missing, ", "))
	}
	return nil
}
