// Package env provides small environment-variable helpers plus dotenv
// loading for local development and the integration test harness. Service
// configuration proper lives in pkg/config; this package only covers the
// cases viper does not reach — test bootstrap and one-off lookups.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Load loads a .env file found in the current directory or any parent,
// without overriding variables already set in the environment. Missing
// files are not an error — production deployments configure through the
// environment directly.
func Load() error {
	envFile := findEnvFile(".env")
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// LoadTest loads .env.test the same way, for the integration suite.
func LoadTest() error {
	envFile := findEnvFile(".env.test")
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// findEnvFile walks from the working directory toward the filesystem root
// looking for name, so tests run from any package directory still find
// the repository's dotenv file.
func findEnvFile(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// GetString returns the variable's value, or fallback when unset or empty.
func GetString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetList returns the variable split on commas, or fallback when unset.
func GetList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return strings.Split(value, ",")
}

// GetBool reports whether the variable is set to a truthy value.
func GetBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
