// Package migrations embeds the database schema.
package migrations

import "embed"

// FS holds every migration file in apply order.
//
//go:embed *.sql
var FS embed.FS
