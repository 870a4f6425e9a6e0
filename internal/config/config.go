// Package config reads the environment-variable surface named in the
// deployment docs. It is intentionally a thin typed boundary rather than
// a general-purpose configuration framework: parsing and defaulting are
// the only job here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-derived setting used by the archiver and
// harvester pipelines.
type Config struct {
	TimeZone *time.Location
	Debug    bool

	DatabaseURL        string
	StorageConnection  string
	Container          string
	LoggedPointName    string
	ActiveDays         int
	ArchiveDeleteDisabled bool
	StartWorkingHour   *int
	EndWorkingHour     *int

	AzureMaxSinglePutSize int64
	AzureMaxSingleGetSize int64

	NessusBase       string
	NessusURL        string
	NessusAccessKey  string
	NessusSecretKey  string
	NessusContainer  string
	AzureStorageConn string
}

// Load reads the process environment and builds a Config. Callers that
// only need the archiver or only the harvester still call Load; unused
// fields simply stay at their zero/default value when the corresponding
// variables are unset.
func Load() (*Config, error) {
	tzName := getenv("TIME_ZONE", "Australia/Perth")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("loading TIME_ZONE %q: %w", tzName, err)
	}

	activeDays, err := getenvInt("LOGGEDPOINT_ACTIVE_DAYS", 30)
	if err != nil {
		return nil, err
	}

	c := &Config{
		TimeZone:              loc,
		Debug:                 getenvBool("DEBUG", false),
		DatabaseURL:           os.Getenv("RESOURCE_TRACKING_DATABASE_URL"),
		StorageConnection:     os.Getenv("RESOURCE_TRACKING_STORAGE_CONNECTION_STRING"),
		Container:             os.Getenv("RESOURCE_TRACKING_CONTAINER"),
		LoggedPointName:       os.Getenv("LOGGEDPOINT_RESOURCE_NAME"),
		ActiveDays:            activeDays,
		ArchiveDeleteDisabled: getenvBool("LOGGEDPOINT_ARCHIVE_DELETE_DISABLED", true),
		NessusBase:            os.Getenv("NESSUS_BASE"),
		NessusURL:             os.Getenv("NESSUS_URL"),
		NessusAccessKey:       os.Getenv("NESSUS_ACCESS_KEY"),
		NessusSecretKey:       os.Getenv("NESSUS_SECRET_KEY"),
		NessusContainer:       os.Getenv("NESSUS_CONTAINER"),
		AzureStorageConn:      os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
	}

	if v, ok := os.LookupEnv("START_WORKING_HOUR"); ok {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing START_WORKING_HOUR: %w", err)
		}
		c.StartWorkingHour = &h
	}
	if v, ok := os.LookupEnv("END_WORKING_HOUR"); ok {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing END_WORKING_HOUR: %w", err)
		}
		c.EndWorkingHour = &h
	}
	if v, ok := os.LookupEnv("AZURE_MAX_SINGLE_PUT_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing AZURE_MAX_SINGLE_PUT_SIZE: %w", err)
		}
		c.AzureMaxSinglePutSize = n
	}
	if v, ok := os.LookupEnv("AZURE_MAX_SINGLE_GET_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing AZURE_MAX_SINGLE_GET_SIZE: %w", err)
		}
		c.AzureMaxSingleGetSize = n
	}

	return c, nil
}

// RequireDatabase validates the fields the archiver pipeline needs.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("RESOURCE_TRACKING_DATABASE_URL is required")
	}
	if c.StorageConnection == "" {
		return fmt.Errorf("RESOURCE_TRACKING_STORAGE_CONNECTION_STRING is required")
	}
	if c.Container == "" {
		return fmt.Errorf("RESOURCE_TRACKING_CONTAINER is required")
	}
	if c.LoggedPointName == "" {
		return fmt.Errorf("LOGGEDPOINT_RESOURCE_NAME is required")
	}
	return nil
}

// RequireHarvester validates the fields the scan harvester needs.
func (c *Config) RequireHarvester() error {
	if c.NessusBase == "" {
		return fmt.Errorf("NESSUS_BASE is required")
	}
	if c.NessusAccessKey == "" || c.NessusSecretKey == "" {
		return fmt.Errorf("NESSUS_ACCESS_KEY and NESSUS_SECRET_KEY are required")
	}
	if c.NessusContainer == "" {
		return fmt.Errorf("NESSUS_CONTAINER is required")
	}
	if c.AzureStorageConn == "" {
		return fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING is required")
	}
	return nil
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getenvBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return n, nil
}
