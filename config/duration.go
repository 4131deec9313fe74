package config

import (
	"fmt"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that parses both bare integers (seconds,
// matching the reference configuration surface) and human-readable
// strings such as "5m", "2h30m" or "1d" in env and YAML sources.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Seconds returns the value as whole seconds.
func (d Duration) Seconds() int { return int(time.Duration(d) / time.Second) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler, used by the env
// parser.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML supports both integer-seconds and duration-string forms.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, &FieldError{Field: "duration", Reason: "must not be negative"}
		}
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	return parsed, nil
}
