// Package schedule holds the structured sync schedule of a supplier
// connection. Schedules are persisted as versioned JSON in a single text
// column and decoded once when a row is read.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CurrentVersion is written by Encode. Version 1 covers the legacy shapes:
// a bare "HH:MM" string or a JSON object without a version field.
const CurrentVersion = 2

type Frequency string

const (
	Hourly Frequency = "hourly"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

var ErrInvalid = errors.New("invalid schedule")

type Config struct {
	Version   int       `json:"version"`
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	TimeOfDay string    `json:"time"`
	Weekday   int       `json:"weekday,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
}

// legacyConfig accepts objects written before the version field existed,
// where a missing "enabled" meant the schedule was active.
type legacyConfig struct {
	Version   int       `json:"version"`
	Enabled   *bool     `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	TimeOfDay string    `json:"time"`
	Weekday   int       `json:"weekday"`
	Timezone  string    `json:"timezone"`
}

// Decode parses a stored schedule column. An empty column yields nil.
func Decode(raw string) (*Config, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if !strings.HasPrefix(raw, "{") {
		// Legacy: the column held only the time of a daily run.
		cfg := &Config{Version: 1, Enabled: true, Frequency: Daily, TimeOfDay: raw}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var lc legacyConfig
	if err := json.Unmarshal([]byte(raw), &lc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := &Config{
		Version:   lc.Version,
		Enabled:   lc.Enabled == nil || *lc.Enabled,
		Frequency: lc.Frequency,
		TimeOfDay: lc.TimeOfDay,
		Weekday:   lc.Weekday,
		Timezone:  lc.Timezone,
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Frequency == "" {
		cfg.Frequency = Daily
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders cfg for storage at CurrentVersion. A nil config encodes
// to the empty string.
func Encode(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	out := *cfg
	out.Version = CurrentVersion
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Config) Validate() error {
	switch c.Frequency {
	case Hourly, Daily, Weekly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalid, c.Frequency)
	}
	if c.TimeOfDay == "" {
		c.TimeOfDay = "00:00"
	}
	if _, _, err := c.clock(); err != nil {
		return err
	}
	if c.Weekday < 0 || c.Weekday > 6 {
		return fmt.Errorf("%w: weekday must be 0-6", ErrInvalid)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// NextRun returns the first run strictly after now. Disabled schedules
// have no next run.
func (c *Config) NextRun(now time.Time) (time.Time, bool) {
	if c == nil || !c.Enabled {
		return time.Time{}, false
	}
	hour, minute, err := c.clock()
	if err != nil {
		return time.Time{}, false
	}
	loc, err := c.location()
	if err != nil {
		return time.Time{}, false
	}

	t := now.In(loc)
	var next time.Time

	switch c.Frequency {
	case Hourly:
		next = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, loc)
		if !next.After(t) {
			next = next.Add(time.Hour)
		}
	case Daily:
		next = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
	case Weekly:
		days := (c.Weekday - int(t.Weekday()) + 7) % 7
		next = time.Date(t.Year(), t.Month(), t.Day()+days, hour, minute, 0, 0, loc)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
	default:
		return time.Time{}, false
	}

	return next.UTC(), true
}

func (c *Config) clock() (int, int, error) {
	parsed, err := time.Parse("15:04", c.TimeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time must be HH:MM", ErrInvalid)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalid, c.Timezone)
	}
	return loc, nil
}
