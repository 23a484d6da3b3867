// Package migrations embeds the SQL schema of the daemon journal.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
