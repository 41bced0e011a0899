// Package db embeds the database schema.
package db

import _ "embed"

// Schema holds the DDL for products, stock adjustments, sales, reconciliation
// markers and terminal keys. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
