// Package config pkg/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// LoadFile is a generic helper that loads a JSON file from path into
// the struct pointed to by dst.
func LoadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}

// LoadAndValidate loads a configuration file, applies environment
// overrides if supported, and validates the result.
func LoadAndValidate(path string, cfg interface{}) error {
	if err := LoadFile(path, cfg); err != nil {
		return err
	}

	if o, ok := cfg.(EnvOverrider); ok {
		o.ApplyEnv()
	}

	return ValidateConfig(cfg)
}

// EnvString returns the environment variable's value, or def when unset.
func EnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

// EnvInt returns the environment variable parsed as an int, or def
// when unset or unparseable.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}
