// Package cli implements the administrative commands exposed by the
// eavadmin binary.
package cli

import (
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"campus-eav/internal/config"
	"campus-eav/internal/logging"
)

// connect opens and pings a database connection, preferring the --db flag
// over the environment.
func connect(dbConnStr string) (*sqlx.DB, error) {
	if dbConnStr == "" {
		dbConnStr = config.GetConnectionString()
	}
	if dbConnStr == "" {
		return nil, fmt.Errorf("database connection string not provided. Set DB_CONN_STRING or use --db flag")
	}

	db, err := sqlx.Connect("postgres", dbConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// newLogger builds the shared logger from the environment, console format by
// default so command output stays readable.
func newLogger() (*zap.Logger, error) {
	format := config.GetLogFormat()
	if format == "" {
		format = "console"
	}
	return logging.NewLogger(config.GetLogLevel(), format, "eavadmin")
}

// maskConnectionString hides credentials when echoing the target database.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "(unparseable connection string)"
	}
	if u.User != nil {
		u.User = url.User("****")
	}
	return u.String()
}
