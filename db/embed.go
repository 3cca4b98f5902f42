// Package db embeds the SQL schema of the order ledger and payment store.
package db

import _ "embed"

// Schema is the idempotent DDL applied at startup by both services.
//
//go:embed migrations/001_schema.sql
var Schema string
