package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration encoded as a Go duration string ("90s", "1h").
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any

	err := value.Decode(&raw)
	if err != nil {
		return err
	}

	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func parseDuration(raw any) (Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}

		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}

		return Duration(parsed), nil
	case float64:
		// bare numbers are seconds
		return Duration(time.Duration(v * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	default:
		return 0, fmt.Errorf("invalid duration %v", raw)
	}
}
