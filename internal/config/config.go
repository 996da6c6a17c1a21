// Package config loads and validates the taskflowd TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	General   General   `toml:"general"`
	Calendar  Calendar  `toml:"calendar"`
	API       API       `toml:"api"`
	Timetrack Timetrack `toml:"timetrack"`
}

type General struct {
	LogLevel string `toml:"log_level"`
	StateDB  string `toml:"state_db"`
}

// Calendar describes the workspace working calendar used by the
// forward-pass scheduler.
type Calendar struct {
	Timezone string   `toml:"timezone"` // IANA name, default "UTC"
	Weekdays []string `toml:"weekdays"` // default Mon-Fri
	DayStart string   `toml:"day_start"` // "HH:MM", default "09:00"
	DayEnd   string   `toml:"day_end"`   // "HH:MM", default "17:00"
	Holidays []string `toml:"holidays"`  // "2006-01-02" dates
}

type API struct {
	Bind            string      `toml:"bind"`
	ShutdownTimeout Duration    `toml:"shutdown_timeout"`
	Security        APISecurity `toml:"security"`
}

// APISecurity gates the mutating API endpoints. With Enabled off and
// RequireLocalOnly on, writes are accepted from loopback and RFC 1918
// addresses only.
type APISecurity struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

type Timetrack struct {
	// AutoStopOnDone stops a user's running timer when they move the
	// timer's task to done. The engine itself never touches timers; this
	// is a daemon-level policy.
	AutoStopOnDone bool `toml:"auto_stop_on_done"`
}

// Load reads and validates a taskflowd TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "~/.taskflow/state.db"
	}
	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "UTC"
	}
	if len(cfg.Calendar.Weekdays) == 0 {
		cfg.Calendar.Weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	}
	if cfg.Calendar.DayStart == "" {
		cfg.Calendar.DayStart = "09:00"
	}
	if cfg.Calendar.DayEnd == "" {
		cfg.Calendar.DayEnd = "17:00"
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8712"
	}
	if cfg.API.ShutdownTimeout.Duration == 0 {
		cfg.API.ShutdownTimeout.Duration = 10 * time.Second
	}
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// WorkingWeekdays resolves the configured weekday names.
func (c Calendar) WorkingWeekdays() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.Weekdays))
	for _, name := range c.Weekdays {
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, day)
	}
	return days, nil
}

// DayWindow resolves day_start/day_end into minutes after midnight.
func (c Calendar) DayWindow() (startMin, endMin int, err error) {
	startMin, err = parseClock(c.DayStart)
	if err != nil {
		return 0, 0, fmt.Errorf("day_start: %w", err)
	}
	endMin, err = parseClock(c.DayEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("day_end: %w", err)
	}
	return startMin, endMin, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Calendar.Timezone); err != nil {
		return fmt.Errorf("calendar timezone %q: %w", cfg.Calendar.Timezone, err)
	}
	if _, err := cfg.Calendar.WorkingWeekdays(); err != nil {
		return fmt.Errorf("calendar weekdays: %w", err)
	}
	startMin, endMin, err := cfg.Calendar.DayWindow()
	if err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if endMin <= startMin {
		return fmt.Errorf("calendar day_end %q must be after day_start %q", cfg.Calendar.DayEnd, cfg.Calendar.DayStart)
	}
	for _, day := range cfg.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("calendar holiday %q: want YYYY-MM-DD", day)
		}
	}
	if cfg.API.Security.Enabled && len(cfg.API.Security.AllowedTokens) == 0 {
		return fmt.Errorf("api security enabled but no allowed_tokens configured")
	}
	if cfg.General.StateDB != "" {
		dir := ExpandHome(filepath.Dir(cfg.General.StateDB))
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return fmt.Errorf("state_db parent path %q is not a directory", dir)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
