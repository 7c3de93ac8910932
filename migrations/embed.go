// Package migrations embeds the audit store schema.
package migrations

import "embed"

// FS holds the *.up.sql files, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
