package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BASE_URL", "https://share.example.at/remote.php/dav/calendars/airflow")
	t.Setenv("CAL_NAME", "outlook-1")
	t.Setenv("USER", "airflow")
	t.Setenv("APP_PWD", "secret")
	t.Setenv("TIMEZONE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !strings.HasSuffix(cfg.BaseURL, "/") {
		t.Errorf("BaseURL %q not normalized with trailing slash", cfg.BaseURL)
	}
	if cfg.Timezone.String() != "Europe/Vienna" {
		t.Errorf("default timezone = %s", cfg.Timezone)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestValidateNamesMissingKeys(t *testing.T) {
	cfg := &Config{BaseURL: "https://example.org/dav/"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"CAL_NAME", "USER", "APP_PWD"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
	if strings.Contains(err.Error(), "BASE_URL") {
		t.Errorf("error %q should not name BASE_URL", err)
	}
}
