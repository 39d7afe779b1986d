package funnel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileDefinition is the YAML shape accepted by the CLI. The window is a
// duration string ("7d" is accepted as shorthand for 168h).
type fileDefinition struct {
	Name   string `yaml:"name"`
	Window string `yaml:"window"`
	Steps  []Step `yaml:"steps"`
}

// LoadFile reads a funnel definition from a YAML file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read funnel file: %w", err)
	}
	var fd fileDefinition
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return Definition{}, fmt.Errorf("failed to parse funnel file: %w", err)
	}
	window, err := ParseWindow(fd.Window)
	if err != nil {
		return Definition{}, err
	}
	return Definition{
		Name:   fd.Name,
		Window: window,
		Steps:  fd.Steps,
		State:  StateDraft,
	}, nil
}

// ParseWindow parses a time window, accepting a "d" suffix for days on
// top of the standard duration syntax.
func ParseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("time window is required")
	}
	if n := len(s); s[n-1] == 'd' {
		var days float64
		if _, err := fmt.Sscanf(s[:n-1], "%f", &days); err == nil {
			return time.Duration(days * 24 * float64(time.Hour)), nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time window %q: %w", s, err)
	}
	return d, nil
}
