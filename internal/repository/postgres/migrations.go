package postgres

import "embed"

// Migrations holds the goose SQL migrations for the preview store.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations passed to goose.
const MigrationsDir = "migrations"
