// Package config loads trackvault configuration from environment
// variables into a strongly typed struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/trackvault/internal/domain"
	"github.com/eliteGoblin/trackvault/internal/ledger"
)

// Config is the full daemon configuration.
type Config struct {
	// Required Garmin credentials.
	GarminUsername string
	GarminPassword string

	LogLevel zapcore.Level

	// Scheduling.
	CronSchedule            string
	RunImmediatelyOnStartup bool

	// Rate limiting.
	RequestDelay time.Duration
	BatchSize    int

	// Change detection and rescan behavior.
	CheckForActivityChanges    bool
	AlwaysRecheckAllActivities bool

	// Activity filtering.
	Filter ledger.FilterPolicy

	// Directories. Defaults match the container layout; change the
	// volume mounts rather than these in deployment.
	DownloadDirectory string
	SessionDirectory  string
}

const (
	defaultCronSchedule      = "0 */8 * * *"
	defaultDownloadDirectory = "/app/garmin_downloads"
	defaultSessionDirectory  = "/app/garmin_session"
)

// FromEnvironment loads configuration from environment variables,
// applying defaults and validating everything eagerly so a bad value
// fails at startup instead of mid-pass.
func FromEnvironment() (*Config, error) {
	username := os.Getenv("GARMIN_USERNAME")
	password := os.Getenv("GARMIN_PASSWORD")
	if username == "" || password == "" {
		return nil, fmt.Errorf("GARMIN_USERNAME and GARMIN_PASSWORD environment variables are required")
	}

	level, err := zapcore.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	schedule := getEnv("CRON_SCHEDULE", defaultCronSchedule)
	if strings.ContainsAny(schedule, `"'`) {
		return nil, fmt.Errorf("CRON_SCHEDULE cannot contain quotes")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid CRON_SCHEDULE %q: %w", schedule, err)
	}

	delaySeconds, err := floatEnv("REQUEST_DELAY_SECONDS", "10")
	if err != nil {
		return nil, err
	}
	batchSize, err := intEnv("BATCH_SIZE", "30")
	if err != nil {
		return nil, err
	}

	startDate := dateEnv("START_DATE", false)
	endDate := dateEnv("END_DATE", true)

	minAge, err := durationEnv("MIN_ACTIVITY_AGE")
	if err != nil {
		return nil, err
	}

	excludedTypes := make(map[string]struct{})
	for _, t := range splitList(os.Getenv("EXCLUDED_ACTIVITY_TYPES")) {
		excludedTypes[t] = struct{}{}
	}

	excludedIDs := make(map[domain.ActivityID]struct{})
	for _, s := range splitList(os.Getenv("EXCLUDED_ACTIVITY_IDS")) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid EXCLUDED_ACTIVITY_IDS value %q: must be a valid integer", s)
		}
		excludedIDs[domain.ActivityID(id)] = struct{}{}
	}

	excludedKinds := make(map[domain.FileKind]struct{})
	for _, s := range splitList(os.Getenv("EXCLUDED_FILE_TYPES")) {
		kind, err := domain.ParseFileKind(s)
		if err != nil {
			return nil, fmt.Errorf("invalid EXCLUDED_FILE_TYPES value %q: %w", s, err)
		}
		if kind == domain.KindMetadata {
			return nil, fmt.Errorf("cannot exclude %q: metadata files are required for change detection", s)
		}
		excludedKinds[kind] = struct{}{}
	}

	return &Config{
		GarminUsername:             username,
		GarminPassword:             password,
		LogLevel:                   level,
		CronSchedule:               schedule,
		RunImmediatelyOnStartup:    boolEnv("RUN_IMMEDIATELY_ON_STARTUP", true),
		RequestDelay:               time.Duration(delaySeconds * float64(time.Second)),
		BatchSize:                  batchSize,
		CheckForActivityChanges:    boolEnv("CHECK_FOR_ACTIVITY_CHANGES", true),
		AlwaysRecheckAllActivities: boolEnv("ALWAYS_RECHECK_ALL_ACTIVITIES", false),
		Filter: ledger.FilterPolicy{
			ExcludedActivityIDs:   excludedIDs,
			ExcludedActivityTypes: excludedTypes,
			ExcludedFileKinds:     excludedKinds,
			StartDate:             startDate,
			EndDate:               endDate,
			MinimumActivityAge:    minAge,
		},
		DownloadDirectory: getEnv("DOWNLOAD_DIR", defaultDownloadDirectory),
		SessionDirectory:  getEnv("SESSION_DIR", defaultSessionDirectory),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// boolEnv accepts the usual truthy spellings: true, 1, yes, on.
func boolEnv(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func intEnv(key, defaultVal string) (int, error) {
	val := getEnv(key, defaultVal)
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: must be a valid integer", key, val)
	}
	return n, nil
}

func floatEnv(key, defaultVal string) (float64, error) {
	val := getEnv(key, defaultVal)
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: must be a valid number", key, val)
	}
	return f, nil
}

// dateEnv parses "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD". A date-only
// end bound clamps to the end of that day. Malformed values warn and
// are ignored rather than failing startup.
func dateEnv(key string, isEndDate bool) *time.Time {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", val, time.UTC); err == nil {
		return &t
	}
	if t, err := time.ParseInLocation("2006-01-02", val, time.UTC); err == nil {
		if isEndDate {
			t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		}
		return &t
	}
	fmt.Fprintf(os.Stderr, "Warning: invalid %s format: %s\n", key, val)
	return nil
}

// durationEnv parses MIN_ACTIVITY_AGE. Accepts time.ParseDuration
// syntax plus a plain day suffix, so "30m", "6h" and "2d" all work.
func durationEnv(key string) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, nil
	}

	var d time.Duration
	if days, err := strconv.ParseFloat(strings.TrimSuffix(val, "d"), 64); err == nil && strings.HasSuffix(val, "d") {
		d = time.Duration(days * 24 * float64(time.Hour))
	} else {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: must be a valid duration like '5m', '6h', '2d'", key, val)
		}
		d = parsed
	}

	if d < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be non-negative", key, val)
	}
	return d, nil
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
