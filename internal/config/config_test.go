package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RESOURCE_TRACKING_DATABASE_URL", "postgres://user@host/db")
	t.Setenv("RESOURCE_TRACKING_STORAGE_CONNECTION_STRING", "conn")
	t.Setenv("RESOURCE_TRACKING_CONTAINER", "archive")
	t.Setenv("LOGGEDPOINT_RESOURCE_NAME", "loggedpoint")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.TimeZone.String() != "Australia/Perth" {
		t.Errorf("TimeZone = %s, want Australia/Perth", c.TimeZone.String())
	}
	if c.Debug {
		t.Error("Debug should default to false")
	}
	if c.ActiveDays != 30 {
		t.Errorf("ActiveDays = %d, want 30", c.ActiveDays)
	}
	if !c.ArchiveDeleteDisabled {
		t.Error("ArchiveDeleteDisabled should default to true")
	}
	if c.StartWorkingHour != nil {
		t.Error("StartWorkingHour should default to unset")
	}

	if err := c.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() error = %v", err)
	}
}

func TestLoadWorkingHours(t *testing.T) {
	t.Setenv("START_WORKING_HOUR", "9")
	t.Setenv("END_WORKING_HOUR", "17")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.StartWorkingHour == nil || *c.StartWorkingHour != 9 {
		t.Errorf("StartWorkingHour = %v, want 9", c.StartWorkingHour)
	}
	if c.EndWorkingHour == nil || *c.EndWorkingHour != 17 {
		t.Errorf("EndWorkingHour = %v, want 17", c.EndWorkingHour)
	}
}

func TestRequireDatabaseMissing(t *testing.T) {
	c := &Config{}
	if err := c.RequireDatabase(); err == nil {
		t.Error("expected error for missing database config")
	}
}

func TestRequireHarvesterMissing(t *testing.T) {
	c := &Config{}
	if err := c.RequireHarvester(); err == nil {
		t.Error("expected error for missing harvester config")
	}
}
