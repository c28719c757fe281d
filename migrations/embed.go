// Package migrations embeds the event archive schema into the binary.
package migrations

import "embed"

// FS holds the *.sql migration files at its root. Pass it to
// database.DB.Migrate with dir ".".
//
//go:embed *.sql
var FS embed.FS
