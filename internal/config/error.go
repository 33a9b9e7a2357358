package config

import (
	"fmt"
	"os"
	"strings"
)

// ConfigError aggregates configuration problems for display.
type ConfigError struct {
	Path    string   // Config file path
	Missing []string // Unresolved environment variables
	Errors  []string // Validation errors
}

// CheckFile loads and validates a config file, collecting everything
// wrong with it into a single error.
func CheckFile(path string) (*Config, *ConfigError) {
	ce := &ConfigError{Path: path}

	cfg, err := Load(path)
	if err != nil {
		ce.Errors = append(ce.Errors, err.Error())
		return nil, ce
	}

	data, err := os.ReadFile(path)
	if err == nil {
		for _, m := range envVarPattern.FindAllStringSubmatch(string(data), -1) {
			if _, ok := os.LookupEnv(m[1]); !ok {
				ce.Missing = append(ce.Missing, m[1])
			}
		}
	}

	ce.Errors = append(ce.Errors, cfg.Validate()...)
	if ce.HasErrors() {
		return cfg, ce
	}
	return cfg, nil
}

func (e *ConfigError) Error() string {
	if !e.HasErrors() {
		return ""
	}

	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing environment variables: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Errors) > 0 {
		parts = append(parts, "validation failed:")
		for _, err := range e.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", err))
		}
	}
	return strings.Join(parts, "\n")
}

// HasErrors returns true if there are any errors.
func (e *ConfigError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Errors) > 0
}
