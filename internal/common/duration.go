package common

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so config fields (TOML/YAML/JSON) can be
// written as human strings like "30s" or "1h30m" instead of raw nanosecond
// integers.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by both
// encoding/json (for a quoted string) and gopkg.in/yaml.v3.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DurationSchema is the JSON-schema fragment returned by Duration.JSONSchema,
// used by config documentation generators.
type DurationSchema struct {
	Type        string
	Title       string
	Description string
	Examples    []string
}

// JSONSchema documents the string format accepted by UnmarshalText.
func (d Duration) JSONSchema() DurationSchema {
	return DurationSchema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units, e.g. 300ms, 30s, 1m, 2h30m",
		Examples:    []string{"300ms", "1m", "30s", "2h30m"},
	}
}
