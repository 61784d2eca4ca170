// Package sqldocs exposes the tracking schema DDL directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the SQLite DDL bundle.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres DDL bundle.
//
//go:embed postgres.sql
var Postgres string
