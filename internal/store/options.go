// Package store provides local persistence backends for the Frigade SDK.
//
// This file defines shared configuration options for the database-backed stores.
package store

import "strings"

// Opts holds configuration options for database-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string. For SQLite this is a file
// path; for PostgreSQL a connection URL or key/value DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" (connection URL or key/value
// form) or "sqlite" (file path).
func DetectDSNType(dsn string) string {
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
