// Package config resolves runtime settings from environment variables.
package config

import "os"

// GetConnectionString returns the database connection string.
func GetConnectionString() string {
	connStr := os.Getenv("DB_CONN_STRING")
	if connStr == "" {
		// Default connection string for local development
		return "postgres://localhost:5432/postgres?sslmode=disable"
	}
	return connStr
}

// GetLogLevel returns the configured log level ("debug", "info", "warn",
// "error"); empty means the logging package default.
func GetLogLevel() string {
	return os.Getenv("EAV_LOG_LEVEL")
}

// GetLogFormat returns "json" or "console"; empty means the logging package
// default.
func GetLogFormat() string {
	return os.Getenv("EAV_LOG_FORMAT")
}
