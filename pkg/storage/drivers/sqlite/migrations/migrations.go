package migrations

import "embed"

// Migrations holds the schema files applied by sqlite.Store.ApplyMigrations.
//
//go:embed *.sql
var Migrations embed.FS
