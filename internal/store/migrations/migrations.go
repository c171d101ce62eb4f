// Package migrations embeds the SQL migration files for the app-owned
// pigeon.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
