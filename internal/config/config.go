// Package config provides small helpers for reading configuration from
// environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable key, or fallback
// when it is unset or empty.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable key, or
// fallback when it is unset or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvFloat returns the float value of the environment variable key, or
// fallback when it is unset or not a valid number.
func GetEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// GetEnvDuration returns the duration value of the environment variable
// key (e.g. "30s"), or fallback when it is unset or malformed.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
